package models

import "time"

// Category is the content label the classifier assigns to a page.
type Category string

const (
	CategoryProduct    Category = "product"
	CategoryRecipe     Category = "recipe"
	CategoryArticle    Category = "article"
	CategoryNavigation Category = "navigation"
	CategoryUnknown    Category = "unknown"
)

// Categories lists every label the classifier may emit.
func Categories() []Category {
	return []Category{
		CategoryProduct,
		CategoryRecipe,
		CategoryArticle,
		CategoryNavigation,
		CategoryUnknown,
	}
}

// Page is one scraped page. Identity is the normalized URL; the scraper
// guarantees URL uniqueness within a run. Category is empty until the
// classifier stage assigns it.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text"`
	Category  Category  `json:"category,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Status    int       `json:"status,omitempty"`
}

// Slice is a bounded chunk of a page's text, the unit of embedding and
// retrieval. ID is the url#start composite, stable across re-runs over the
// same artifact.
type Slice struct {
	ID        string   `json:"id"`
	SourceURL string   `json:"source_url"`
	Title     string   `json:"title,omitempty"`
	Text      string   `json:"text"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	Category  Category `json:"category,omitempty"`
}

// EmbeddedSlice is a Slice with its vector attached by the embedder.
type EmbeddedSlice struct {
	Slice
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Failure records one per-item error a stage skipped over. Stages write these
// to a side artifact so failed keys can be re-processed later.
type Failure struct {
	Stage string    `json:"stage"`
	Key   string    `json:"key"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// SearchResult is one scored match returned by the query-time search.
type SearchResult struct {
	Content   string  `json:"content"`
	Score     float32 `json:"score"`
	SourceURL string  `json:"source_url"`
}
