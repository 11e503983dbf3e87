package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smartie/sitebot/internal/models"
)

const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Backend        string
	Model          string
	BaseURL        string
	APIKey         string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
}

// ChatEngine composes an answer from retrieved slices with an LLM.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Backend == "" {
		config.Backend = BackendOllama
	}
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature <= 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are Smartie, an enthusiastic assistant answering product and " +
			"recipe questions from the site content provided. Suggest relevant products " +
			"and include their links when available."
	}

	var model llms.Model
	var err error
	switch config.Backend {
	case BackendOpenAI:
		model, err = openai.New(
			openai.WithBaseURL(config.BaseURL),
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		)
	case BackendOllama:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		model, err = ollama.New(
			ollama.WithServerURL(config.BaseURL),
			ollama.WithModel(config.Model),
		)
	default:
		return nil, fmt.Errorf("unknown chat backend %q", config.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// NewWithModel injects an llms.Model directly; tests use this with a fake.
func NewWithModel(config ChatConfig, model llms.Model) *ChatEngine {
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant."
	}
	return &ChatEngine{config: config, llm: model}
}

// Answer generates a response grounded in the retrieved slices. With no
// slices the model answers from the system prompt alone (small talk).
func (ce *ChatEngine) Answer(ctx context.Context, query string, results []models.SearchResult) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
	}

	if len(results) > 0 {
		var contextBuilder strings.Builder
		for _, r := range results {
			contextBuilder.WriteString(fmt.Sprintf("Source: %s\n%s\n\n", r.SourceURL, r.Content))
		}
		content = append(content, llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf("Context:\n%s\nQuestion: %s", contextBuilder.String(), query)))
	} else {
		content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, query))
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// IsSmallTalk reports whether a query is general conversation rather than a
// product question, so retrieval can be skipped.
func IsSmallTalk(query string) bool {
	lower := strings.ToLower(query)
	signals := []string{
		"hello", "hi ", "how are you", "what's up", "who are you", "tell me a joke",
	}
	if lower == "hi" {
		return true
	}
	for _, signal := range signals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}
