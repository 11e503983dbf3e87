package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Scraper struct {
		Seeds             []string `yaml:"seeds"`
		MaxDepth          int      `yaml:"max_depth"`
		RateLimit         float64  `yaml:"rate_limit"`
		IgnorePatterns    []string `yaml:"ignore_patterns"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
		TimeoutSeconds    int      `yaml:"timeout_seconds"`
		UserAgent         string   `yaml:"user_agent"`
	} `yaml:"scraper"`

	Artifacts struct {
		Dir      string `yaml:"dir"`
		Compress bool   `yaml:"compress"`
	} `yaml:"artifacts"`

	Splitter struct {
		Strategy     string `yaml:"strategy"`
		MaxChunkSize int    `yaml:"max_chunk_size"`
		Overlap      int    `yaml:"overlap"`
		Lookback     int    `yaml:"lookback"`
	} `yaml:"splitter"`

	Embedder struct {
		Backend   string `yaml:"backend"`
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		BatchSize int    `yaml:"batch_size"`
		Workers   int    `yaml:"workers"`
	} `yaml:"embedder"`

	Database struct {
		URL         string `yaml:"url"`
		PageTable   string `yaml:"page_table"`
		SliceTable  string `yaml:"slice_table"`
		VectorDim   int    `yaml:"vector_dim"`
		BatchSize   int    `yaml:"batch_size"`
		SearchLimit int    `yaml:"search_limit"`
	} `yaml:"database"`

	LLM struct {
		Backend     string  `yaml:"backend"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Retry struct {
		MaxAttempts       int `yaml:"max_attempts"`
		InitialIntervalMS int `yaml:"initial_interval_ms"`
		MaxIntervalMS     int `yaml:"max_interval_ms"`
	} `yaml:"retry"`

	Server struct {
		Addr                string `yaml:"addr"`
		ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/sitebot/config.yaml"),
			"/etc/sitebot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.Scraper.TimeoutSeconds == 0 {
		config.Scraper.TimeoutSeconds = 30
	}

	if config.Artifacts.Dir == "" {
		config.Artifacts.Dir = "data"
	}

	if config.Splitter.Strategy == "" {
		config.Splitter.Strategy = "sentence"
	}
	if config.Splitter.MaxChunkSize == 0 {
		config.Splitter.MaxChunkSize = 1000
	}
	if config.Splitter.Overlap == 0 {
		config.Splitter.Overlap = 100
	}
	if config.Splitter.Lookback == 0 {
		config.Splitter.Lookback = 100
	}

	if config.Embedder.Backend == "" {
		config.Embedder.Backend = "ollama"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 16
	}
	if config.Embedder.Workers == 0 {
		config.Embedder.Workers = 4
	}

	if config.Database.PageTable == "" {
		config.Database.PageTable = "pages"
	}
	if config.Database.SliceTable == "" {
		config.Database.SliceTable = "slices"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}

	if config.LLM.Backend == "" {
		config.LLM.Backend = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.InitialIntervalMS == 0 {
		config.Retry.InitialIntervalMS = 500
	}
	if config.Retry.MaxIntervalMS == 0 {
		config.Retry.MaxIntervalMS = 10000
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.ReadTimeoutSeconds == 0 {
		config.Server.ReadTimeoutSeconds = 15
	}
	if config.Server.WriteTimeoutSeconds == 0 {
		config.Server.WriteTimeoutSeconds = 60
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.Embedder.BaseURL == "" {
			config.Embedder.BaseURL = baseURL
		}
		if config.LLM.BaseURL == "" {
			config.LLM.BaseURL = baseURL
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.Embedder.APIKey == "" {
			config.Embedder.APIKey = key
		}
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = key
		}
	}
}

// Artifact paths are derived from the artifacts dir; the .gz suffix selects
// compression in the codec.

func (c *Config) ext() string {
	if c.Artifacts.Compress {
		return ".jsonl.gz"
	}
	return ".jsonl"
}

func (c *Config) PagesPath() string {
	return filepath.Join(c.Artifacts.Dir, "pages"+c.ext())
}

func (c *Config) ClassifiedPath() string {
	return filepath.Join(c.Artifacts.Dir, "pages_classified"+c.ext())
}

func (c *Config) SlicesPath() string {
	return filepath.Join(c.Artifacts.Dir, "slices"+c.ext())
}

func (c *Config) EmbeddedPath() string {
	return filepath.Join(c.Artifacts.Dir, "slices_with_embed"+c.ext())
}

// FailuresPath is the per-stage failure list, always uncompressed so it can
// be inspected directly.
func (c *Config) FailuresPath(stage string) string {
	return filepath.Join(c.Artifacts.Dir, stage+".failed.jsonl")
}
