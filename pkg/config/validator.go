package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	for _, seed := range c.Scraper.Seeds {
		parsed, err := url.Parse(seed)
		if err != nil || parsed.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "scraper.seeds",
				Message: fmt.Sprintf("invalid seed URL: %s", seed),
			})
		}
	}

	if c.Scraper.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must be positive",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			errors = append(errors, ValidationError{
				Field:   "scraper.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	if c.Splitter.Strategy != "fixed" && c.Splitter.Strategy != "sentence" {
		errors = append(errors, ValidationError{
			Field:   "splitter.strategy",
			Message: fmt.Sprintf("unknown strategy: %s", c.Splitter.Strategy),
		})
	}

	if c.Splitter.MaxChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "splitter.max_chunk_size",
			Message: "max_chunk_size must be positive",
		})
	}

	if c.Splitter.Overlap < 0 || c.Splitter.Overlap >= c.Splitter.MaxChunkSize {
		errors = append(errors, ValidationError{
			Field:   "splitter.overlap",
			Message: "overlap must be non-negative and less than max_chunk_size",
		})
	}

	if c.Embedder.Backend != "openai" && c.Embedder.Backend != "ollama" {
		errors = append(errors, ValidationError{
			Field:   "embedder.backend",
			Message: fmt.Sprintf("unknown backend: %s", c.Embedder.Backend),
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.workers",
			Message: "workers must be positive",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	if c.Retry.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	return errors
}
