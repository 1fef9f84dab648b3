package vectorstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocumentsYAML(t *testing.T) {
	docs, err := LoadDocumentsYAML(strings.NewReader(`
documents:
  - id: intro
    text: Go is a programming language.
    metadata:
      lang: en
  - text: No id yet.
  - id: vec
    embedding: [0.1, 0.2]
`))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "intro", docs[0].ID)
	assert.Equal(t, map[string]string{"lang": "en"}, docs[0].Metadata)
	assert.Empty(t, docs[1].ID)
	assert.Equal(t, []float32{0.1, 0.2}, docs[2].Embedding)
}

func TestLoadDocumentsYAML_Errors(t *testing.T) {
	_, err := LoadDocumentsYAML(strings.NewReader("documents:\n  - id: empty\n"))
	assert.ErrorContains(t, err, "neither text nor embedding")

	_, err = LoadDocumentsYAML(strings.NewReader("docs: []\n"))
	assert.Error(t, err)

	docs, err := LoadDocumentsYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, docs)
}
