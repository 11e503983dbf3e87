package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/internal/types"
	"github.com/smartie/sitebot/pkg/retry"
)

type StoreConfig struct {
	ConnString  string
	PageTable   string
	SliceTable  string
	VectorDim   int
	BatchSize   int
	SearchLimit int
	Retry       retry.Config
	Logger      zerolog.Logger
}

// Store persists slices and their owning pages in Postgres with pgvector.
// Every write is an upsert keyed by slice id (and page url), so re-running an
// upload over the same artifact never duplicates records and the latest text
// wins on a key collision.
type Store struct {
	config StoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config StoreConfig) (*Store, error) {
	if config.PageTable == "" {
		config.PageTable = "pages"
	}
	if config.SliceTable == "" {
		config.SliceTable = "slices"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		config: config,
		pool:   pool,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createPages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			url TEXT PRIMARY KEY,
			title TEXT,
			category TEXT
		)`, s.config.PageTable)
	if _, err := s.pool.Exec(ctx, createPages); err != nil {
		return fmt.Errorf("failed to create page table: %w", err)
	}

	createSlices := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			page_url TEXT NOT NULL REFERENCES %s(url),
			title TEXT,
			content TEXT,
			category TEXT,
			start_offset INTEGER,
			end_offset INTEGER,
			model TEXT,
			embedding vector(%d)
		)`, s.config.SliceTable, s.config.PageTable, s.config.VectorDim)
	if _, err := s.pool.Exec(ctx, createSlices); err != nil {
		return fmt.Errorf("failed to create slice table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		s.config.SliceTable, s.config.SliceTable)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

// Upsert writes every embedded slice and its owning page. Batches that still
// fail after retries land in the report's FailedKeys; the remaining batches
// are not aborted.
func (s *Store) Upsert(ctx context.Context, slices []models.EmbeddedSlice) (types.UpsertReport, error) {
	var report types.UpsertReport

	for start := 0; start < len(slices); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(slices) {
			end = len(slices)
		}
		batch := slices[start:end]

		var created, updated int
		err := retry.Do(ctx, s.config.Retry, func() error {
			var batchErr error
			created, updated, batchErr = s.upsertBatch(ctx, batch)
			return batchErr
		})
		if err != nil {
			s.config.Logger.Warn().Err(err).Int("batch", len(batch)).Msg("upsert batch failed")
			for _, sl := range batch {
				report.FailedKeys = append(report.FailedKeys, sl.ID)
			}
			continue
		}
		report.Created += created
		report.Updated += updated
	}
	return report, nil
}

func (s *Store) upsertBatch(ctx context.Context, batch []models.EmbeddedSlice) (created, updated int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pageStmt := fmt.Sprintf(`
		INSERT INTO %s (url, title, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category`,
		s.config.PageTable)

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	sliceStmt := fmt.Sprintf(`
		INSERT INTO %s (id, page_url, title, content, category, start_offset, end_offset, model, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			page_url = EXCLUDED.page_url,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			start_offset = EXCLUDED.start_offset,
			end_offset = EXCLUDED.end_offset,
			model = EXCLUDED.model,
			embedding = EXCLUDED.embedding
		RETURNING (xmax = 0) AS inserted`,
		s.config.SliceTable)

	for _, sl := range batch {
		if _, err := tx.Exec(ctx, pageStmt,
			sl.SourceURL, sanitizeUTF8(sl.Title), string(sl.Category)); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert page %s: %w", sl.SourceURL, err)
		}

		var inserted bool
		err := tx.QueryRow(ctx, sliceStmt,
			sl.ID,
			sl.SourceURL,
			sanitizeUTF8(sl.Title),
			sanitizeUTF8(sl.Text),
			string(sl.Category),
			sl.Start,
			sl.End,
			sl.Model,
			pgvector.NewVector(sl.Embedding),
		).Scan(&inserted)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert slice %s: %w", sl.ID, err)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, updated, nil
}

// Search returns the slices nearest to the query embedding by cosine
// distance, scored as 1-distance.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error) {
	if limit == 0 {
		limit = s.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT content, page_url, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		s.config.SliceTable)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query slices: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Content, &r.SourceURL, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountSlices reports the stored slice count, used by idempotence checks and
// the upload summary.
func (s *Store) CountSlices(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s", s.config.SliceTable)).Scan(&count)
	return count, err
}

// SliceText fetches one slice's stored content by key.
func (s *Store) SliceText(ctx context.Context, id string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT content FROM %s WHERE id = $1", s.config.SliceTable), id).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("slice %s not found", id)
	}
	return content, err
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func sanitizeUTF8(str string) string {
	if utf8.ValidString(str) {
		return str
	}
	v := make([]rune, 0, len(str))
	for i, r := range str {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(str[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
