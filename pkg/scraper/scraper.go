package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/smartie/sitebot/internal/models"
)

type ScraperConfig struct {
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	Logger            zerolog.Logger
	OnProgress        func(url string)
}

// Scraper crawls internal links starting from a seed set, staying on the
// seeds' hosts. URLs are deduplicated by normalized form within a run; a
// failed fetch is recorded and skipped, never fatal.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	hosts    map[string]bool
	failures []models.Failure
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = "sitebot/1.0"
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited: make(map[string]bool),
		hosts:   make(map[string]bool),
	}, nil
}

func New() *Scraper {
	s, _ := NewWithConfig(ScraperConfig{})
	return s
}

// Normalize strips query and fragment and lowercases the host. Two URLs with
// the same normalized form are the same page for dedup purposes.
func Normalize(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimSuffix(parsed.String(), "/")
}

// Scrape crawls from the seed URLs up to the configured depth. It returns
// every successfully fetched page plus the failures it skipped over; the
// error is non-nil only when no seed could be parsed at all.
func (s *Scraper) Scrape(ctx context.Context, seeds []string) ([]models.Page, []models.Failure, error) {
	s.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), 1)
	s.failures = nil

	valid := 0
	for _, seed := range seeds {
		parsed, err := url.Parse(seed)
		if err != nil || parsed.Host == "" {
			s.recordFailure(seed, fmt.Errorf("invalid seed URL: %s", seed))
			continue
		}
		s.hosts[strings.ToLower(parsed.Host)] = true
		valid++
	}
	if valid == 0 {
		return nil, s.failures, fmt.Errorf("no valid seed URLs in %v", seeds)
	}

	var pages []models.Page
	for _, seed := range seeds {
		s.crawl(ctx, seed, 0, &pages)
	}
	return pages, s.failures, nil
}

func (s *Scraper) crawl(ctx context.Context, rawURL string, depth int, pages *[]models.Page) {
	if ctx.Err() != nil || depth > s.config.MaxDepth {
		return
	}

	normalized := Normalize(rawURL)
	if s.visited[normalized] || !s.shouldProcessURL(normalized) {
		return
	}
	s.visited[normalized] = true

	if s.config.OnProgress != nil {
		s.config.OnProgress(normalized)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	page, links, err := s.fetch(ctx, normalized)
	if err != nil {
		s.config.Logger.Warn().Str("url", normalized).Err(err).Msg("fetch failed")
		s.recordFailure(normalized, err)
		return
	}

	s.config.Logger.Debug().Str("url", normalized).Int("depth", depth).Msg("fetched")
	*pages = append(*pages, page)

	for _, link := range links {
		s.crawl(ctx, link, depth+1, pages)
	}
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (models.Page, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return models.Page{}, nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Page{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Page{}, nil, fmt.Errorf("status %d for %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Page{}, nil, err
	}

	page := models.Page{
		URL:       pageURL,
		Title:     strings.TrimSpace(doc.Find("title").Text()),
		Text:      s.extractMainContent(doc),
		FetchedAt: time.Now().UTC(),
		Status:    resp.StatusCode,
	}

	var links []string
	base, _ := url.Parse(pageURL)
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, ok := selection.Attr("href")
		if !ok {
			return
		}
		resolved, err := url.Parse(href)
		if err != nil {
			return
		}
		if !resolved.IsAbs() && base != nil {
			resolved = base.ResolveReference(resolved)
		}
		links = append(links, resolved.String())
	})

	return page, links, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if !s.hosts[strings.ToLower(parsed.Host)] {
		return false
	}

	path := strings.ToLower(parsed.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}
	return true
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}
	return cleanContent(content)
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Accept All",
		"Privacy Policy",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}

func (s *Scraper) recordFailure(key string, err error) {
	s.failures = append(s.failures, models.Failure{
		Stage: "scrape",
		Key:   key,
		Error: err.Error(),
		At:    time.Now().UTC(),
	})
}
