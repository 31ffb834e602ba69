package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Processor ProcessorConfig `yaml:"processor"`
	Loader    LoaderConfig    `yaml:"loader"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// LLMConfig configures the generation model.
type LLMConfig struct {
	Provider     string  `yaml:"provider"` // openai | ollama
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// EmbedderConfig configures the sentence-embedding model.
type EmbedderConfig struct {
	Provider  string  `yaml:"provider"` // ollama | huggingface | openai
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	Model     string  `yaml:"model"`
	Dimension int     `yaml:"dimension"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"` // batches per second, 0 is unlimited
}

// IndexConfig configures the remote vector collection.
type IndexConfig struct {
	Backend           string `yaml:"backend"` // pgvector | qdrant | memory
	Name              string `yaml:"name"`
	Metric            string `yaml:"metric"`
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key"`
	TLS               bool   `yaml:"tls"` // qdrant addresses without a scheme
	BatchSize         int    `yaml:"batch_size"`
	ValidateDimension *bool  `yaml:"validate_dimension"`
	Dedupe            *bool  `yaml:"dedupe"`
}

// RetrievalConfig enumerates the recognized retriever options.
type RetrievalConfig struct {
	SearchType string `yaml:"search_type"`
	K          int    `yaml:"k"`
}

type ProcessorConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Separators   []string `yaml:"separators"`
}

type LoaderConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TimeoutConfig bounds each external call.
type TimeoutConfig struct {
	Embed    time.Duration `yaml:"embed"`
	Search   time.Duration `yaml:"search"`
	Generate time.Duration `yaml:"generate"`
	Shutdown time.Duration `yaml:"shutdown"`
}

const (
	SearchTypeSimilarity = "similarity"
	DefaultIndexName     = "medical-chatbot"

	DefaultTemperature  = 0.7
	DefaultChunkOverlap = 20
)

// DedupeEnabled reports whether entry IDs are derived from content.
func (c IndexConfig) DedupeEnabled() bool {
	return c.Dedupe == nil || *c.Dedupe
}

func (c IndexConfig) ValidateDimensionEnabled() bool {
	return c.ValidateDimension == nil || *c.ValidateDimension
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/medbot/config.yaml"),
			"/etc/medbot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := zeroableDefaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() *Config {
	config := zeroableDefaults()
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

// zeroableDefaults seeds the fields where zero is a valid setting. They are
// filled before decoding so an explicit 0 in the file survives.
func zeroableDefaults() *Config {
	return &Config{
		LLM:       LLMConfig{Temperature: DefaultTemperature},
		Processor: ProcessorConfig{ChunkOverlap: DefaultChunkOverlap},
	}
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.Model = "mistral"
		default:
			config.LLM.Model = "gpt-4o-mini"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		switch config.Embedder.Provider {
		case "huggingface":
			config.Embedder.Model = "sentence-transformers/all-MiniLM-L6-v2"
		case "openai":
			config.Embedder.Model = "text-embedding-3-small"
		default:
			config.Embedder.Model = "all-minilm"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Dimension == 0 {
		config.Embedder.Dimension = 384
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "pgvector"
	}
	if config.Index.Name == "" {
		config.Index.Name = DefaultIndexName
	}
	if config.Index.Metric == "" {
		config.Index.Metric = "cosine"
	}
	if config.Index.BatchSize == 0 {
		config.Index.BatchSize = 100
	}

	if config.Retrieval.SearchType == "" {
		config.Retrieval.SearchType = SearchTypeSimilarity
	}
	if config.Retrieval.K == 0 {
		config.Retrieval.K = 3
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}

	if config.Loader.Dir == "" {
		config.Loader.Dir = "data/"
	}
	if len(config.Loader.Extensions) == 0 {
		config.Loader.Extensions = []string{".pdf"}
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/"}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Timeouts.Embed == 0 {
		config.Timeouts.Embed = 30 * time.Second
	}
	if config.Timeouts.Search == 0 {
		config.Timeouts.Search = 10 * time.Second
	}
	if config.Timeouts.Generate == 0 {
		config.Timeouts.Generate = 60 * time.Second
	}
	if config.Timeouts.Shutdown == 0 {
		config.Timeouts.Shutdown = 10 * time.Second
	}
}

// mergeWithEnv lets credentials and endpoints come from the environment.
// Environment values win over the file.
func mergeWithEnv(config *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.LLM.Provider == "" || config.LLM.Provider == "openai" {
			config.LLM.APIKey = key
		}
		if config.Embedder.Provider == "openai" {
			config.Embedder.APIKey = key
		}
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Provider == "" || config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if token := os.Getenv("HUGGINGFACEHUB_API_TOKEN"); token != "" && config.Embedder.Provider == "huggingface" {
		config.Embedder.APIKey = token
	}

	switch config.Index.Backend {
	case "", "pgvector":
		if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
			config.Index.URL = dbURL
		}
	case "qdrant":
		if qURL := os.Getenv("QDRANT_URL"); qURL != "" {
			config.Index.URL = qURL
		}
		if key := os.Getenv("QDRANT_API_KEY"); key != "" {
			config.Index.APIKey = key
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
