package types

import (
	"context"

	"github.com/smartie/sitebot/internal/models"
)

// Core stage interfaces. Each pipeline stage is constructed with an explicit
// config and consumes/produces artifact records; no stage reads the
// environment directly.

type Scraper interface {
	Scrape(ctx context.Context, seeds []string) ([]models.Page, []models.Failure, error)
}

type Classifier interface {
	Classify(page models.Page) models.Category
}

// ChunkStrategy turns one page's text into ordered slices. Implementations
// must never emit a chunk longer than their configured maximum and must never
// drop a trailing remainder.
type ChunkStrategy interface {
	Split(text string) []Chunk
}

// Chunk is a strategy's raw output before source attribution is attached.
// Start and End are rune offsets into the source text.
type Chunk struct {
	Text  string
	Start int
	End   int
}

type Embedder interface {
	EmbedSlices(ctx context.Context, slices []models.Slice) ([]models.EmbeddedSlice, []models.Failure, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Store is the graph/vector store boundary: upsert-by-key page and slice
// records, similarity search over the same key-space.
type Store interface {
	Upsert(ctx context.Context, slices []models.EmbeddedSlice) (UpsertReport, error)
	Search(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error)
	Close()
}

// UpsertReport summarizes one uploader run.
type UpsertReport struct {
	Created    int
	Updated    int
	FailedKeys []string
}
