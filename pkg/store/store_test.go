package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/pkg/retry"
	"github.com/smartie/sitebot/pkg/store"
)

// Integration tests against a real pgvector database; skipped unless
// SITEBOT_TEST_DATABASE_URL points at one.
func getTestStore(t *testing.T) *store.Store {
	t.Helper()
	connString := os.Getenv("SITEBOT_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("SITEBOT_TEST_DATABASE_URL not set")
	}

	s, err := store.NewWithConfig(context.Background(), store.StoreConfig{
		ConnString: connString,
		PageTable:  fmt.Sprintf("test_pages_%d", time.Now().UnixNano()),
		SliceTable: fmt.Sprintf("test_slices_%d", time.Now().UnixNano()),
		VectorDim:  4,
		Retry:      retry.Config{MaxAttempts: 1, InitialInterval: time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func testEmbedded(id, url, text string) models.EmbeddedSlice {
	return models.EmbeddedSlice{
		Slice: models.Slice{
			ID:        id,
			SourceURL: url,
			Text:      text,
			Category:  models.CategoryProduct,
		},
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
		Model:     "test-model",
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	slices := []models.EmbeddedSlice{
		testEmbedded("https://example.com/a#0", "https://example.com/a", "first chunk"),
		testEmbedded("https://example.com/a#15", "https://example.com/a", "second chunk"),
	}

	first, err := s.Upsert(ctx, slices)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Updated)
	assert.Empty(t, first.FailedKeys)

	second, err := s.Upsert(ctx, slices)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)

	count, err := s.CountSlices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertLatestTextWins(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	fst := testEmbedded("https://example.com/b#0", "https://example.com/b", "old text")
	snd := testEmbedded("https://example.com/b#0", "https://example.com/b", "new text")

	_, err := s.Upsert(ctx, []models.EmbeddedSlice{fst, snd})
	require.NoError(t, err)

	count, err := s.CountSlices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	content, err := s.SliceText(ctx, "https://example.com/b#0")
	require.NoError(t, err)
	assert.Equal(t, "new text", content)
}

func TestSearchReturnsScoredResults(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	near := testEmbedded("https://example.com/c#0", "https://example.com/c", "near")
	far := testEmbedded("https://example.com/d#0", "https://example.com/d", "far")
	far.Embedding = []float32{-0.1, -0.2, -0.3, -0.4}

	_, err := s.Upsert(ctx, []models.EmbeddedSlice{near, far})
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{0.1, 0.2, 0.3, 0.4}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "near", results[0].Content)
	assert.Equal(t, "https://example.com/c", results[0].SourceURL)
	assert.Greater(t, results[0].Score, results[1].Score)
}
