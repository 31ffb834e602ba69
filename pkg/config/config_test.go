package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "OLLAMA_BASE_URL", "HUGGINGFACEHUB_API_TOKEN",
		"DATABASE_URL", "QDRANT_URL", "QDRANT_API_KEY", "PORT",
	} {
		t.Setenv(key, "")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv(t)
	cfg := getDefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.Index.URL = "postgres://localhost:5432/medbot"
	return cfg
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedder:
  provider: "ollama"
  model: "all-minilm"
  dimension: 384

index:
  backend: "qdrant"
  name: "test-collection"
  url: "localhost:6334"
  api_key: "secret"
  dedupe: false

retrieval:
  k: 5

processor:
  chunk_size: 400
  chunk_overlap: 40

timeouts:
  search: 2s
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "qdrant", config.Index.Backend)
	assert.Equal(t, "test-collection", config.Index.Name)
	assert.False(t, config.Index.DedupeEnabled())
	assert.True(t, config.Index.ValidateDimensionEnabled())
	assert.Equal(t, 5, config.Retrieval.K)
	assert.Equal(t, SearchTypeSimilarity, config.Retrieval.SearchType)
	assert.Equal(t, 400, config.Processor.ChunkSize)
	assert.Equal(t, 40, config.Processor.ChunkOverlap)
	assert.Equal(t, 2*time.Second, config.Timeouts.Search)
	assert.Equal(t, 60*time.Second, config.Timeouts.Generate)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	config := getDefaultConfig()

	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, 384, config.Embedder.Dimension)
	assert.Equal(t, DefaultIndexName, config.Index.Name)
	assert.Equal(t, "cosine", config.Index.Metric)
	assert.True(t, config.Index.DedupeEnabled())
	assert.Equal(t, 3, config.Retrieval.K)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 20, config.Processor.ChunkOverlap)
	assert.Equal(t, []string{".pdf"}, config.Loader.Extensions)
	assert.Equal(t, ":8080", config.Server.Addr)
}

func TestLoadConfigKeepsExplicitZero(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configData := `
llm:
  api_key: "sk-test"
  temperature: 0
index:
  url: "postgres://localhost:5432/medbot"
processor:
  chunk_overlap: 0
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Zero(t, config.LLM.Temperature)
	assert.Zero(t, config.Processor.ChunkOverlap)
	assert.Empty(t, config.Validate())

	// absent keys still get defaults
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: gpt-4o\n"), 0644))
	config, err = LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, config.LLM.Temperature)
	assert.Equal(t, DefaultChunkOverlap, config.Processor.ChunkOverlap)
}

func TestDefaultScraperExtensionsFilter(t *testing.T) {
	clearEnv(t)
	config := getDefaultConfig()
	assert.NotContains(t, config.Scraper.AllowedExtensions, "")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "missing credentials",
			mutate: func(c *Config) {
				c.LLM.APIKey = ""
				c.Index.URL = ""
			},
			errorMessages: []string{
				"llm.api_key: generation API key is required",
				"index.url: database URL is required",
			},
		},
		{
			name: "qdrant requires api key",
			mutate: func(c *Config) {
				c.Index.Backend = "qdrant"
				c.Index.URL = "localhost:6334"
			},
			errorMessages: []string{
				"index.api_key: Qdrant API key is required",
			},
		},
		{
			name: "invalid values",
			mutate: func(c *Config) {
				c.LLM.MaxTokens = 50000
				c.LLM.Temperature = 3.0
				c.Index.Metric = "manhattan"
				c.Retrieval.SearchType = "mmr"
				c.Processor.ChunkOverlap = 500
			},
			errorMessages: []string{
				"llm.max_tokens: max_tokens must be between 1 and 16384",
				"llm.temperature: temperature must be between 0 and 2",
				"index.metric: unknown similarity metric",
				"retrieval.search_type: unsupported search type: mmr",
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
			},
		},
		{
			name: "bad extension",
			mutate: func(c *Config) {
				c.Loader.Extensions = []string{"pdf"}
			},
			errorMessages: []string{
				"loader.extensions: invalid extension format: pdf",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			errors := cfg.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("PORT", "9090")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "sk-env", config.LLM.APIKey)
	assert.Equal(t, "postgres://env-db:5432/test", config.Index.URL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, ":9090", config.Server.Addr)
}

func TestEnvironmentOverridesQdrant(t *testing.T) {
	clearEnv(t)
	t.Setenv("QDRANT_URL", "qdrant.example:6334")
	t.Setenv("QDRANT_API_KEY", "q-key")
	t.Setenv("DATABASE_URL", "postgres://ignored")

	config := &Config{Index: IndexConfig{Backend: "qdrant"}}
	mergeWithEnv(config)

	assert.Equal(t, "qdrant.example:6334", config.Index.URL)
	assert.Equal(t, "q-key", config.Index.APIKey)
}
