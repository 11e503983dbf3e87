package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	cfgPkg "github.com/smartie/sitebot/pkg/config"
	"github.com/smartie/sitebot/pkg/embedder"
	"github.com/smartie/sitebot/pkg/llm"
	"github.com/smartie/sitebot/pkg/pipeline"
	"github.com/smartie/sitebot/pkg/retry"
	"github.com/smartie/sitebot/pkg/store"
	"github.com/smartie/sitebot/server"
)

const usage = `usage: sitebot [flags] <command>

commands:
  scrape    fetch the seed URLs and everything linked within the depth limit
  classify  label scraped pages with a content category
  split     chunk classified pages into slices
  embed     attach embedding vectors to slices
  upload    upsert embedded slices into the vector store
  run       all of the above, in order
  serve     start the search service
`

func main() {
	var (
		configPath   string
		seeds        string
		artifactsDir string
		dbURL        string
		addr         string
		verbose      bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&seeds, "seeds", "", "Comma-separated seed URLs (overrides config)")
	flag.StringVar(&artifactsDir, "artifacts-dir", "", "Directory for stage artifacts (overrides config)")
	flag.StringVar(&dbURL, "db-url", "", "PostgreSQL connection string (overrides config)")
	flag.StringVar(&addr, "addr", "", "Listen address for serve (overrides config)")
	flag.BoolVar(&verbose, "v", false, "Debug logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	logger := newLogger(verbose)

	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading config")
	}
	if seeds != "" {
		cfg.Scraper.Seeds = strings.Split(seeds, ",")
	}
	if artifactsDir != "" {
		cfg.Artifacts.Dir = artifactsDir
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config error: %v", e)
		}
		os.Exit(1)
	}

	if err := run(command, cfg, logger); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("failed")
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func run(command string, cfg *cfgPkg.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	p := pipeline.New(cfg, logger)

	switch command {
	case "scrape":
		return scrapeWithProgress(ctx, p)
	case "classify":
		return p.Classify(ctx)
	case "split":
		return p.Split(ctx)
	case "embed":
		return p.Embed(ctx)
	case "upload":
		return upload(ctx, p)
	case "run":
		if err := scrapeWithProgress(ctx, p); err != nil {
			return err
		}
		stages := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"classify", p.Classify},
			{"split", p.Split},
			{"embed", p.Embed},
		}
		bar := getProgressBar(len(stages)+1, "Processing pages...")
		for _, stage := range stages {
			if err := stage.fn(ctx); err != nil {
				return fmt.Errorf("%s: %w", stage.name, err)
			}
			bar.Add(1)
		}
		if err := upload(ctx, p); err != nil {
			return err
		}
		bar.Finish()
		fmt.Println()
		return nil
	case "serve":
		return serve(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func scrapeWithProgress(ctx context.Context, p *pipeline.Pipeline) error {
	color.Blue("Scraping %s", strings.Join(p.Config.Scraper.Seeds, ", "))

	var visited int32
	bar := getSpinner("Scraping pages...")
	p.ScrapeProgress = func(url string) {
		count := atomic.AddInt32(&visited, 1)
		bar.Describe(color.BlueString("Scraping pages... (%d visited)", count))
		bar.Add(1)
	}

	err := p.Scrape(ctx)
	bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}
	color.Green("Scraped %d pages", atomic.LoadInt32(&visited))
	return nil
}

func upload(ctx context.Context, p *pipeline.Pipeline) error {
	report, err := p.Upload(ctx)
	if err != nil {
		return err
	}
	color.Green("Upload complete: %d created, %d updated, %d failed",
		report.Created, report.Updated, len(report.FailedKeys))
	return nil
}

func serve(ctx context.Context, cfg *cfgPkg.Config, logger zerolog.Logger) error {
	retryConfig := retry.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: time.Duration(cfg.Retry.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Retry.MaxIntervalMS) * time.Millisecond,
	}

	emb, err := embedder.NewWithConfig(embedder.EmbedderConfig{
		Backend:   cfg.Embedder.Backend,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.Embedder.APIKey,
		VectorDim: cfg.Database.VectorDim,
		Retry:     retryConfig,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	st, err := store.NewWithConfig(ctx, store.StoreConfig{
		ConnString:  cfg.Database.URL,
		PageTable:   cfg.Database.PageTable,
		SliceTable:  cfg.Database.SliceTable,
		VectorDim:   cfg.Database.VectorDim,
		BatchSize:   cfg.Database.BatchSize,
		SearchLimit: cfg.Database.SearchLimit,
		Retry:       retryConfig,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Backend:     cfg.LLM.Backend,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("initializing chat engine: %w", err)
	}

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		SearchLimit:  cfg.Database.SearchLimit,
		Logger:       logger,
	}, emb, st, chat, llm.IsSmallTalk)

	return srv.ListenAndServe()
}
