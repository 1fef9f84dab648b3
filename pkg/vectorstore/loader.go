package vectorstore

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/creastat/llmkit/pkg/models"
)

type documentsFile struct {
	Documents []models.Document `yaml:"documents"`
}

// LoadDocumentsYAML reads documents from YAML of the form
//
//	documents:
//	  - id: a
//	    text: ...
//	    metadata: {lang: en}
func LoadDocumentsYAML(r io.Reader) ([]models.Document, error) {
	var f documentsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}
	for i, d := range f.Documents {
		if d.Text == "" && len(d.Embedding) == 0 {
			return nil, fmt.Errorf("document %d (%q) has neither text nor embedding", i, d.ID)
		}
	}
	return f.Documents, nil
}

// LoadDocumentsFile reads a YAML documents file from disk
func LoadDocumentsFile(path string) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open documents file: %w", err)
	}
	defer f.Close()
	return LoadDocumentsYAML(f)
}
