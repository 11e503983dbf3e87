package embedder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/pkg/retry"
)

const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

type EmbedderConfig struct {
	Backend   string // "openai" or "ollama"
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
	Workers   int
	// VectorDim, when set, rejects vectors of any other dimensionality so a
	// run can never mix schemas in the store.
	VectorDim int
	Retry     retry.Config
	Logger    zerolog.Logger
}

// Embedder attaches vectors to slices by calling the embedding provider in
// batches. Provider failures are retried with backoff; a batch that still
// fails is recorded per slice id and never aborts the run.
type Embedder struct {
	config EmbedderConfig
	client embeddings.Embedder
}

// NewWithConfig builds the provider client from config.
func NewWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = withDefaults(config)

	var client embeddings.Embedder
	var err error
	switch config.Backend {
	case BackendOpenAI:
		llm, llmErr := openai.New(
			openai.WithBaseURL(config.BaseURL),
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		)
		if llmErr != nil {
			return nil, fmt.Errorf("initializing openai client: %w", llmErr)
		}
		client, err = embeddings.NewEmbedder(llm)
	case BackendOllama:
		llm, llmErr := ollama.New(
			ollama.WithServerURL(config.BaseURL),
			ollama.WithModel(config.Model),
		)
		if llmErr != nil {
			return nil, fmt.Errorf("initializing ollama client: %w", llmErr)
		}
		client, err = embeddings.NewEmbedder(llm)
	default:
		return nil, fmt.Errorf("unknown embedder backend %q", config.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Embedder{config: config, client: client}, nil
}

// NewWithClient injects a provider client directly. Tests use this with a
// fake; langchaingo embedders satisfy the interface.
func NewWithClient(config EmbedderConfig, client embeddings.Embedder) *Embedder {
	return &Embedder{config: withDefaults(config), client: client}
}

func withDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Backend == "" {
		config.Backend = BackendOllama
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" && config.Backend == BackendOllama {
		config.BaseURL = "http://localhost:11434"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 16
	}
	if config.Workers == 0 {
		config.Workers = 4
	}
	return config
}

// EmbedSlices embeds every slice, batching provider calls and running batches
// on a bounded worker pool. Output order is not significant; every input
// slice ends up either embedded or in the failure list, never dropped.
func (e *Embedder) EmbedSlices(ctx context.Context, slices []models.Slice) ([]models.EmbeddedSlice, []models.Failure, error) {
	if len(slices) == 0 {
		return nil, nil, nil
	}

	pool, err := ants.NewPool(e.config.Workers)
	if err != nil {
		return nil, nil, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		embedded []models.EmbeddedSlice
		failures []models.Failure
	)

	for start := 0; start < len(slices); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(slices) {
			end = len(slices)
		}
		batch := slices[start:end]

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			ok, failed := e.processBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			embedded = append(embedded, ok...)
			failures = append(failures, failed...)
		})
		if submitErr != nil {
			wg.Done()
			// Already-submitted batches are still running; wait them out so
			// no goroutine outlives this call.
			wg.Wait()
			return nil, nil, fmt.Errorf("submitting embedding batch: %w", submitErr)
		}
	}

	wg.Wait()

	if len(embedded)+len(failures) != len(slices) {
		return nil, nil, fmt.Errorf("embedding accounting mismatch: %d embedded + %d failed != %d input",
			len(embedded), len(failures), len(slices))
	}
	return embedded, failures, nil
}

// processBatch embeds one batch. When the batch call still fails after
// retries, it degrades to per-item calls so one bad chunk only fails itself.
func (e *Embedder) processBatch(ctx context.Context, batch []models.Slice) ([]models.EmbeddedSlice, []models.Failure) {
	vectors, err := e.embedBatch(ctx, batch)
	if err == nil {
		ok := make([]models.EmbeddedSlice, 0, len(batch))
		for i, s := range batch {
			ok = append(ok, models.EmbeddedSlice{
				Slice:     s,
				Embedding: vectors[i],
				Model:     e.config.Model,
			})
		}
		return ok, nil
	}

	if len(batch) == 1 {
		e.config.Logger.Warn().Err(err).Str("id", batch[0].ID).Msg("embedding failed")
		return nil, []models.Failure{{
			Stage: "embed",
			Key:   batch[0].ID,
			Error: err.Error(),
			At:    time.Now().UTC(),
		}}
	}

	e.config.Logger.Warn().Err(err).Int("batch", len(batch)).Msg("batch embedding failed, retrying items individually")
	var ok []models.EmbeddedSlice
	var failed []models.Failure
	for _, s := range batch {
		single, singleErr := e.embedBatch(ctx, []models.Slice{s})
		if singleErr != nil {
			failed = append(failed, models.Failure{
				Stage: "embed",
				Key:   s.ID,
				Error: singleErr.Error(),
				At:    time.Now().UTC(),
			})
			continue
		}
		ok = append(ok, models.EmbeddedSlice{
			Slice:     s,
			Embedding: single[0],
			Model:     e.config.Model,
		})
	}
	return ok, failed
}

// embedBatch calls the provider once per attempt for the whole batch. The
// response must be order-preserving and of equal length with the request.
func (e *Embedder) embedBatch(ctx context.Context, batch []models.Slice) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = s.Text
	}

	var vectors [][]float32
	err := retry.Do(ctx, e.config.Retry, func() error {
		result, embedErr := e.client.EmbedDocuments(ctx, texts)
		if embedErr != nil {
			return embedErr
		}
		if len(result) != len(texts) {
			return retry.Permanent(fmt.Errorf("provider returned %d vectors for %d texts", len(result), len(texts)))
		}
		for _, vec := range result {
			if e.config.VectorDim > 0 && len(vec) != e.config.VectorDim {
				return retry.Permanent(fmt.Errorf("vector dimension %d, want %d", len(vec), e.config.VectorDim))
			}
		}
		vectors = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a search query with the same model used at ingestion.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	var vector []float32
	err := retry.Do(ctx, e.config.Retry, func() error {
		result, embedErr := e.client.EmbedQuery(ctx, query)
		if embedErr != nil {
			return embedErr
		}
		vector = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}
