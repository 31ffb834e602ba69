package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/medbot/internal/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every problem with the configuration. An empty result
// means the process may start serving.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "generation API key is required (OPENAI_API_KEY)")
		}
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		}
	default:
		add("llm.provider", fmt.Sprintf("unsupported provider: %s", c.LLM.Provider))
	}

	if c.LLM.BaseURL != "" && !isHTTPURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid base URL")
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 16384 {
		add("llm.max_tokens", "max_tokens must be between 1 and 16384")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Validate Embedder config
	switch c.Embedder.Provider {
	case "ollama":
		if c.Embedder.BaseURL == "" {
			add("embedder.base_url", "Ollama base URL is required")
		}
	case "huggingface":
		if c.Embedder.APIKey == "" {
			add("embedder.api_key", "Hugging Face token is required (HUGGINGFACEHUB_API_TOKEN)")
		}
	case "openai":
		if c.Embedder.APIKey == "" {
			add("embedder.api_key", "embedding API key is required (OPENAI_API_KEY)")
		}
	default:
		add("embedder.provider", fmt.Sprintf("unsupported provider: %s", c.Embedder.Provider))
	}

	if c.Embedder.Dimension < 1 {
		add("embedder.dimension", "dimension must be positive")
	}

	if c.Embedder.BatchSize < 1 {
		add("embedder.batch_size", "batch_size must be positive")
	}

	if c.Embedder.RateLimit < 0 {
		add("embedder.rate_limit", "rate_limit must not be negative")
	}

	// Validate Index config
	switch c.Index.Backend {
	case "pgvector":
		if c.Index.URL == "" {
			add("index.url", "database URL is required (DATABASE_URL)")
		} else if u, err := url.Parse(c.Index.URL); err != nil || u.Scheme == "" {
			add("index.url", "invalid database URL")
		}
	case "qdrant":
		if c.Index.URL == "" {
			add("index.url", "Qdrant address is required (QDRANT_URL)")
		}
		if c.Index.APIKey == "" {
			add("index.api_key", "Qdrant API key is required (QDRANT_API_KEY)")
		}
	case "memory":
	default:
		add("index.backend", fmt.Sprintf("unsupported backend: %s", c.Index.Backend))
	}

	if c.Index.Name == "" {
		add("index.name", "collection name is required")
	}

	if _, err := models.ParseMetric(c.Index.Metric); err != nil {
		add("index.metric", err.Error())
	}

	if c.Index.BatchSize < 1 {
		add("index.batch_size", "batch_size must be positive")
	}

	// Validate Retrieval config
	if c.Retrieval.SearchType != SearchTypeSimilarity {
		add("retrieval.search_type", fmt.Sprintf("unsupported search type: %s", c.Retrieval.SearchType))
	}

	if c.Retrieval.K < 1 {
		add("retrieval.k", "k must be positive")
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Validate Loader config
	for _, ext := range c.Loader.Extensions {
		if len(ext) < 2 || ext[0] != '.' {
			add("loader.extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 1 {
		add("scraper.max_depth", "max_depth must be positive")
	}

	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	// Validate Timeouts
	if c.Timeouts.Embed <= 0 || c.Timeouts.Search <= 0 || c.Timeouts.Generate <= 0 {
		add("timeouts", "embed, search and generate timeouts must be positive")
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
