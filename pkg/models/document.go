package models

import (
	"maps"
	"slices"
)

// Document is a unit of text stored in a vector store. Score is only
// meaningful on documents returned by a similarity search.
type Document struct {
	ID        string            `json:"id" yaml:"id"`
	Text      string            `json:"text" yaml:"text"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Score     float64           `json:"score,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	return Document{
		ID:        d.ID,
		Text:      d.Text,
		Metadata:  maps.Clone(d.Metadata),
		Embedding: slices.Clone(d.Embedding),
		Score:     d.Score,
	}
}

// SearchRequest describes a similarity query. Threshold is inclusive and in
// [0,1]; zero accepts every document. Filter keys must match metadata exactly.
type SearchRequest struct {
	Query     string            `json:"query"`
	TopK      int               `json:"top_k"`
	Threshold float64           `json:"threshold"`
	Filter    map[string]string `json:"filter,omitempty"`
}

// DefaultTopK is used by convenience search helpers
const DefaultTopK = 4
