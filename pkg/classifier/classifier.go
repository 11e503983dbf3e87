package classifier

import (
	"net/url"
	"strings"

	"github.com/smartie/sitebot/internal/models"
)

type ClassifierConfig struct {
	// MinArticleLength is the text length above which content-signal
	// classification may label a page as an article.
	MinArticleLength int
}

// Classifier assigns exactly one category per page. Classification is pure:
// the same (URL, text) pair always yields the same label, which keeps
// pipeline re-runs reproducible.
type Classifier struct {
	config ClassifierConfig
}

func NewWithConfig(config ClassifierConfig) Classifier {
	if config.MinArticleLength == 0 {
		config.MinArticleLength = 400
	}
	return Classifier{config: config}
}

func New() Classifier {
	return NewWithConfig(ClassifierConfig{})
}

var pathLabels = []struct {
	fragment string
	category models.Category
}{
	{"/recipe", models.CategoryRecipe},
	{"/product", models.CategoryProduct},
	{"/brand", models.CategoryProduct},
	{"/coffee", models.CategoryProduct},
	{"/article", models.CategoryArticle},
	{"/blog", models.CategoryArticle},
	{"/news", models.CategoryArticle},
	{"/about", models.CategoryNavigation},
	{"/contact", models.CategoryNavigation},
	{"/search", models.CategoryNavigation},
	{"/sitemap", models.CategoryNavigation},
	{"/faq", models.CategoryNavigation},
}

// Classify labels a page from its URL pattern first and content signals
// second. Pages that match nothing get CategoryUnknown, never dropped.
func (c *Classifier) Classify(page models.Page) models.Category {
	if cat := c.classifyByURL(page.URL); cat != models.CategoryUnknown {
		return cat
	}
	return c.classifyByContent(page.Text)
}

func (c *Classifier) classifyByURL(rawURL string) models.Category {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return models.CategoryUnknown
	}

	path := strings.ToLower(parsed.Path)
	if path == "" || path == "/" {
		return models.CategoryNavigation
	}

	for _, rule := range pathLabels {
		if strings.Contains(path, rule.fragment) {
			return rule.category
		}
	}
	return models.CategoryUnknown
}

func (c *Classifier) classifyByContent(text string) models.Category {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "ingredients") &&
		(strings.Contains(lower, "instructions") || strings.Contains(lower, "preparation")) {
		return models.CategoryRecipe
	}

	productSignals := []string{"nutrition facts", "where to buy", "buy now", "serving size"}
	for _, signal := range productSignals {
		if strings.Contains(lower, signal) {
			return models.CategoryProduct
		}
	}

	if len(text) >= c.config.MinArticleLength {
		return models.CategoryArticle
	}
	return models.CategoryUnknown
}
