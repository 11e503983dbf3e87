package splitter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/internal/types"
)

// ErrEmptyPage is reported when a page has no text to split. The pipeline
// records it as a per-page failure and keeps going.
var ErrEmptyPage = errors.New("page has no text to split")

const (
	StrategyFixed    = "fixed"
	StrategySentence = "sentence"
)

type SplitterConfig struct {
	Strategy     string // "fixed" or "sentence"
	MaxChunkSize int
	Overlap      int
	// Lookback bounds how far the sentence strategy searches back from a hard
	// cut for a sentence or word boundary.
	Lookback int
}

// Splitter turns classified pages into slices using the configured chunking
// strategy. Slice identity is the source URL plus start offset, so re-running
// the stage over the same artifact produces identical ids.
type Splitter struct {
	config   SplitterConfig
	strategy types.ChunkStrategy
}

func NewWithConfig(config SplitterConfig) (*Splitter, error) {
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = 1000
	}
	if config.Overlap == 0 {
		config.Overlap = 100
	}
	if config.Lookback == 0 {
		config.Lookback = 100
	}
	if config.Strategy == "" {
		config.Strategy = StrategySentence
	}
	if config.Overlap >= config.MaxChunkSize {
		return nil, fmt.Errorf("overlap %d must be smaller than max chunk size %d",
			config.Overlap, config.MaxChunkSize)
	}

	var strategy types.ChunkStrategy
	switch config.Strategy {
	case StrategyFixed:
		strategy = &fixedStrategy{max: config.MaxChunkSize, overlap: config.Overlap}
	case StrategySentence:
		strategy = &sentenceStrategy{
			max:      config.MaxChunkSize,
			overlap:  config.Overlap,
			lookback: config.Lookback,
		}
	default:
		return nil, fmt.Errorf("unknown splitter strategy %q", config.Strategy)
	}

	return &Splitter{config: config, strategy: strategy}, nil
}

// SplitPage produces the ordered slices covering one page's full text.
func (s *Splitter) SplitPage(page models.Page) ([]models.Slice, error) {
	if strings.TrimSpace(page.Text) == "" {
		return nil, fmt.Errorf("%s: %w", page.URL, ErrEmptyPage)
	}

	chunks := s.strategy.Split(page.Text)
	slices := make([]models.Slice, 0, len(chunks))
	for _, chunk := range chunks {
		slices = append(slices, models.Slice{
			ID:        fmt.Sprintf("%s#%d", page.URL, chunk.Start),
			SourceURL: page.URL,
			Title:     page.Title,
			Text:      chunk.Text,
			Start:     chunk.Start,
			End:       chunk.End,
			Category:  page.Category,
		})
	}
	return slices, nil
}

// fixedStrategy windows the text at a fixed width, advancing by
// max-overlap each step. Oblivious to content.
type fixedStrategy struct {
	max     int
	overlap int
}

func (f *fixedStrategy) Split(text string) []types.Chunk {
	// Window over runes, not bytes, so edges never land inside a multibyte
	// character. Offsets count runes throughout.
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= f.max {
		return []types.Chunk{{Text: text, Start: 0, End: len(runes)}}
	}

	step := f.max - f.overlap
	var chunks []types.Chunk
	for start := 0; start < len(runes); start += step {
		end := start + f.max
		if end >= len(runes) {
			chunks = append(chunks, types.Chunk{Text: string(runes[start:]), Start: start, End: len(runes)})
			break
		}
		chunks = append(chunks, types.Chunk{Text: string(runes[start:end]), Start: start, End: end})
	}
	return chunks
}

var (
	sentenceEnders = []rune{'.', '!', '?', '\n'}
	wordBreaks     = []rune{' ', '\t', ',', ';', ':', ')', ']', '}'}
)

// sentenceStrategy prefers cutting just after a sentence ending, then after a
// word break, searching backwards from the hard limit within the lookback
// window. When neither exists it falls back to a hard cut, so no chunk ever
// exceeds max. Consecutive chunks overlap by the configured amount.
type sentenceStrategy struct {
	max      int
	overlap  int
	lookback int
}

func (s *sentenceStrategy) Split(text string) []types.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.max {
		return []types.Chunk{{Text: text, Start: 0, End: len(runes)}}
	}

	var chunks []types.Chunk
	start := 0
	for start < len(runes) {
		hard := start + s.max
		if hard >= len(runes) {
			chunks = append(chunks, types.Chunk{Text: string(runes[start:]), Start: start, End: len(runes)})
			break
		}

		end := s.cutPoint(runes, start, hard)
		chunks = append(chunks, types.Chunk{Text: string(runes[start:end]), Start: start, End: end})
		start = end - s.overlap
	}
	return chunks
}

// cutPoint picks the break position in (start, hard]. The search floor keeps
// the next window moving forward even after the overlap is subtracted.
func (s *sentenceStrategy) cutPoint(runes []rune, start, hard int) int {
	floor := hard - s.lookback
	if min := start + s.overlap + 1; floor < min {
		floor = min
	}

	for i := hard - 1; i >= floor; i-- {
		if isOneOf(runes[i], sentenceEnders) {
			return i + 1
		}
	}
	for i := hard - 1; i >= floor; i-- {
		if isOneOf(runes[i], wordBreaks) {
			return i + 1
		}
	}
	return hard
}

func isOneOf(r rune, set []rune) bool {
	for _, c := range set {
		if r == c {
			return true
		}
	}
	return false
}
