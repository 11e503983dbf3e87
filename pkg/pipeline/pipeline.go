package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/internal/types"
	"github.com/smartie/sitebot/pkg/artifact"
	"github.com/smartie/sitebot/pkg/classifier"
	"github.com/smartie/sitebot/pkg/config"
	"github.com/smartie/sitebot/pkg/embedder"
	"github.com/smartie/sitebot/pkg/retry"
	"github.com/smartie/sitebot/pkg/scraper"
	"github.com/smartie/sitebot/pkg/splitter"
	"github.com/smartie/sitebot/pkg/store"
)

// Pipeline runs the five ingestion stages. Stages hand off through artifact
// files only: each one reads the previous stage's output and writes its own,
// so any stage can be re-run in isolation. Per-item failures go to a side
// list; a stage returns an error only when it cannot produce output at all.
type Pipeline struct {
	Config *config.Config
	Logger zerolog.Logger

	// Embedder and Store are built from Config when nil; tests inject fakes.
	Embedder types.Embedder
	Store    types.Store

	// ScrapeProgress, when set, is called once per visited URL.
	ScrapeProgress func(url string)
}

func New(cfg *config.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{Config: cfg, Logger: logger}
}

func (p *Pipeline) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:     p.Config.Retry.MaxAttempts,
		InitialInterval: time.Duration(p.Config.Retry.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(p.Config.Retry.MaxIntervalMS) * time.Millisecond,
	}
}

// Scrape fetches the seed set and everything reachable within the depth
// limit, then writes the pages artifact and the fetch failure list.
func (p *Pipeline) Scrape(ctx context.Context) error {
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:          p.Config.Scraper.MaxDepth,
		RateLimit:         p.Config.Scraper.RateLimit,
		IgnorePatterns:    p.Config.Scraper.IgnorePatterns,
		AllowedExtensions: p.Config.Scraper.AllowedExtensions,
		Timeout:           time.Duration(p.Config.Scraper.TimeoutSeconds) * time.Second,
		UserAgent:         p.Config.Scraper.UserAgent,
		Logger:            p.Logger,
		OnProgress:        p.ScrapeProgress,
	})
	if err != nil {
		return fmt.Errorf("initializing scraper: %w", err)
	}

	pages, failures, err := s.Scrape(ctx, p.Config.Scraper.Seeds)
	if err != nil {
		return fmt.Errorf("scraping: %w", err)
	}
	if len(pages) == 0 {
		return errors.New("scraper produced no pages")
	}

	if err := artifact.Write(p.Config.FailuresPath("scrape"), failures); err != nil {
		return err
	}
	if err := artifact.Write(p.Config.PagesPath(), pages); err != nil {
		return err
	}

	p.Logger.Info().Int("pages", len(pages)).Int("failures", len(failures)).Msg("scrape complete")
	return nil
}

// Classify labels every scraped page with exactly one category.
func (p *Pipeline) Classify(ctx context.Context) error {
	pages, err := artifact.Read[models.Page](p.Config.PagesPath())
	if err != nil {
		return fmt.Errorf("reading pages artifact: %w", err)
	}

	c := classifier.New()
	counts := make(map[models.Category]int)
	for i := range pages {
		pages[i].Category = c.Classify(pages[i])
		counts[pages[i].Category]++
	}

	if err := artifact.Write(p.Config.ClassifiedPath(), pages); err != nil {
		return err
	}
	// The classifier never fails per-item; the empty list keeps the artifact
	// layout uniform across stages.
	if err := artifact.Write(p.Config.FailuresPath("classify"), []models.Failure{}); err != nil {
		return err
	}

	event := p.Logger.Info()
	for cat, n := range counts {
		event = event.Int(string(cat), n)
	}
	event.Msg("classify complete")
	return nil
}

// Split chunks every classified page with the configured strategy.
func (p *Pipeline) Split(ctx context.Context) error {
	pages, err := artifact.Read[models.Page](p.Config.ClassifiedPath())
	if err != nil {
		return fmt.Errorf("reading classified artifact: %w", err)
	}

	s, err := splitter.NewWithConfig(splitter.SplitterConfig{
		Strategy:     p.Config.Splitter.Strategy,
		MaxChunkSize: p.Config.Splitter.MaxChunkSize,
		Overlap:      p.Config.Splitter.Overlap,
		Lookback:     p.Config.Splitter.Lookback,
	})
	if err != nil {
		return fmt.Errorf("initializing splitter: %w", err)
	}

	var slices []models.Slice
	var failures []models.Failure
	for _, page := range pages {
		pageSlices, splitErr := s.SplitPage(page)
		if splitErr != nil {
			p.Logger.Warn().Str("url", page.URL).Err(splitErr).Msg("split failed")
			failures = append(failures, models.Failure{
				Stage: "split",
				Key:   page.URL,
				Error: splitErr.Error(),
				At:    time.Now().UTC(),
			})
			continue
		}
		slices = append(slices, pageSlices...)
	}

	if err := artifact.Write(p.Config.FailuresPath("split"), failures); err != nil {
		return err
	}
	if err := artifact.Write(p.Config.SlicesPath(), slices); err != nil {
		return err
	}

	p.Logger.Info().Int("slices", len(slices)).Int("failures", len(failures)).Msg("split complete")
	return nil
}

// Embed attaches vectors to every slice, writing failed slice ids to the
// side list for later re-processing.
func (p *Pipeline) Embed(ctx context.Context) error {
	slices, err := artifact.Read[models.Slice](p.Config.SlicesPath())
	if err != nil {
		return fmt.Errorf("reading slices artifact: %w", err)
	}

	emb := p.Embedder
	if emb == nil {
		e, embErr := embedder.NewWithConfig(embedder.EmbedderConfig{
			Backend:   p.Config.Embedder.Backend,
			Model:     p.Config.Embedder.Model,
			BaseURL:   p.Config.Embedder.BaseURL,
			APIKey:    p.Config.Embedder.APIKey,
			BatchSize: p.Config.Embedder.BatchSize,
			Workers:   p.Config.Embedder.Workers,
			VectorDim: p.Config.Database.VectorDim,
			Retry:     p.retryConfig(),
			Logger:    p.Logger,
		})
		if embErr != nil {
			return fmt.Errorf("initializing embedder: %w", embErr)
		}
		emb = e
	}

	embedded, failures, err := emb.EmbedSlices(ctx, slices)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	if err := artifact.Write(p.Config.FailuresPath("embed"), failures); err != nil {
		return err
	}
	if err := artifact.Write(p.Config.EmbeddedPath(), embedded); err != nil {
		return err
	}

	p.Logger.Info().Int("embedded", len(embedded)).Int("failures", len(failures)).Msg("embed complete")
	return nil
}

// Upload upserts every embedded slice into the graph/vector store and
// reports created vs updated counts plus failed keys.
func (p *Pipeline) Upload(ctx context.Context) (types.UpsertReport, error) {
	embedded, err := artifact.Read[models.EmbeddedSlice](p.Config.EmbeddedPath())
	if err != nil {
		return types.UpsertReport{}, fmt.Errorf("reading embedded artifact: %w", err)
	}

	st := p.Store
	if st == nil {
		s, storeErr := store.NewWithConfig(ctx, store.StoreConfig{
			ConnString:  p.Config.Database.URL,
			PageTable:   p.Config.Database.PageTable,
			SliceTable:  p.Config.Database.SliceTable,
			VectorDim:   p.Config.Database.VectorDim,
			BatchSize:   p.Config.Database.BatchSize,
			SearchLimit: p.Config.Database.SearchLimit,
			Retry:       p.retryConfig(),
			Logger:      p.Logger,
		})
		if storeErr != nil {
			return types.UpsertReport{}, fmt.Errorf("initializing store: %w", storeErr)
		}
		defer s.Close()
		st = s
	}

	report, err := st.Upsert(ctx, embedded)
	if err != nil {
		return report, fmt.Errorf("uploading: %w", err)
	}

	failures := make([]models.Failure, 0, len(report.FailedKeys))
	for _, key := range report.FailedKeys {
		failures = append(failures, models.Failure{
			Stage: "upload",
			Key:   key,
			Error: "upsert failed after retries",
			At:    time.Now().UTC(),
		})
	}
	if err := artifact.Write(p.Config.FailuresPath("upload"), failures); err != nil {
		return report, err
	}

	p.Logger.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("failed", len(report.FailedKeys)).
		Msg("upload complete")
	return report, nil
}

// Run executes every stage in order.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Scrape(ctx); err != nil {
		return err
	}
	if err := p.Classify(ctx); err != nil {
		return err
	}
	if err := p.Split(ctx); err != nil {
		return err
	}
	if err := p.Embed(ctx); err != nil {
		return err
	}
	_, err := p.Upload(ctx)
	return err
}
