package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("LLMKIT_TEST_DEFAULTS", "")
	require.NoError(t, err)

	assert.Equal(t, "memory", s.VectorStore.Backend)
	assert.Equal(t, "cosine", s.VectorStore.Distance)
	assert.Equal(t, 1536, s.VectorStore.Dimensions)
	assert.Equal(t, 3, s.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, s.Retry.InitialInterval)
	assert.Equal(t, "llmkit", s.VectorStore.Redis.KeyPrefix)
}

func TestLoadSettings_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
chat:
  provider: gemini
  model: gemini-1.5-flash
vector_store:
  backend: sqlite
  dimensions: 768
  sqlite_path: /tmp/x.db
retry:
  initial_interval: 2s
`)
	t.Setenv("LLMKIT_CHAT_MODEL", "gemini-2.0-flash")
	t.Setenv("LLMKIT_VECTOR_STORE_DISTANCE", "euclidean")

	s, err := LoadSettings("LLMKIT", path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", s.Chat.Provider)
	assert.Equal(t, "gemini-2.0-flash", s.Chat.Model)
	assert.Equal(t, "sqlite", s.VectorStore.Backend)
	assert.Equal(t, 768, s.VectorStore.Dimensions)
	assert.Equal(t, "euclidean", s.VectorStore.Distance)
	assert.Equal(t, 2*time.Second, s.Retry.InitialInterval)
}

func TestLoadSettings_SamplingZeroIsExplicit(t *testing.T) {
	s, err := LoadSettings("LLMKIT_TEST_SAMPLING_DEFAULTS", "")
	require.NoError(t, err)
	require.NotNil(t, s.Chat.Temperature)
	assert.Equal(t, 0.7, *s.Chat.Temperature)
	assert.Nil(t, s.Chat.TopP, "top_p stays unset unless configured")

	path := writeConfig(t, "chat:\n  temperature: 0\n")
	t.Setenv("LLMKIT_TEST_SAMPLING_CHAT_TOP_P", "0.9")
	s, err = LoadSettings("LLMKIT_TEST_SAMPLING", path)
	require.NoError(t, err)
	require.NotNil(t, s.Chat.Temperature)
	assert.Equal(t, 0.0, *s.Chat.Temperature)
	require.NotNil(t, s.Chat.TopP)
	assert.Equal(t, 0.9, *s.Chat.TopP)
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := writeConfig(t, "vector_store:\n  backend: pinecone\n")
	_, err := LoadSettings("LLMKIT_TEST_INVALID", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinecone")
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := LoadSettings("LLMKIT_TEST_MISSING", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_IntoCustomStruct(t *testing.T) {
	path := writeConfig(t, "name: worker\nport: 8080\n")
	var cfg struct {
		Name string `mapstructure:"name"`
		Port int    `mapstructure:"port"`
	}
	require.NoError(t, Load(&cfg, "LLMKIT_TEST_LOAD", path, nil))
	assert.Equal(t, "worker", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
}
