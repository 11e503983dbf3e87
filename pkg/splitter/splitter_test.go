package splitter_test

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/pkg/artifact"
	"github.com/smartie/sitebot/pkg/splitter"
)

const sampleText = "Sentence one. Sentence two. Sentence three."

func mustSplitter(t *testing.T, config splitter.SplitterConfig) *splitter.Splitter {
	t.Helper()
	s, err := splitter.NewWithConfig(config)
	require.NoError(t, err)
	return s
}

// reconstruct strips the configured overlap (in runes) from each chunk after
// the first and concatenates the rest in order.
func reconstruct(slices []models.Slice, overlap int) string {
	var b strings.Builder
	for i, s := range slices {
		if i == 0 {
			b.WriteString(s.Text)
			continue
		}
		b.WriteString(string([]rune(s.Text)[overlap:]))
	}
	return b.String()
}

func TestFixedSplitScenario(t *testing.T) {
	s := mustSplitter(t, splitter.SplitterConfig{
		Strategy:     splitter.StrategyFixed,
		MaxChunkSize: 20,
		Overlap:      5,
	})

	page := models.Page{URL: "https://example.com/products/a", Text: sampleText}
	slices, err := s.SplitPage(page)
	require.NoError(t, err)
	require.Len(t, slices, 3)

	assert.Equal(t, "Sentence one. Senten", slices[0].Text)
	assert.Equal(t, "entence two. Sentenc", slices[1].Text)
	assert.Equal(t, "ntence three.", slices[2].Text)

	assert.Equal(t, sampleText, reconstruct(slices, 5))
}

func TestSplitReconstruction(t *testing.T) {
	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	for _, strategy := range []string{splitter.StrategyFixed, splitter.StrategySentence} {
		t.Run(strategy, func(t *testing.T) {
			s := mustSplitter(t, splitter.SplitterConfig{
				Strategy:     strategy,
				MaxChunkSize: 100,
				Overlap:      20,
				Lookback:     30,
			})

			slices, err := s.SplitPage(models.Page{URL: "https://example.com/x", Text: long})
			require.NoError(t, err)
			require.NotEmpty(t, slices)

			assert.Equal(t, long, reconstruct(slices, 20))

			for _, sl := range slices {
				assert.LessOrEqual(t, utf8.RuneCountInString(sl.Text), 100)
				assert.Equal(t, sl.Text, string([]rune(long)[sl.Start:sl.End]))
			}
		})
	}
}

func TestSplitMultibyteText(t *testing.T) {
	long := strings.Repeat("Nestlé café au lait recette préférée. ", 10)

	for _, strategy := range []string{splitter.StrategyFixed, splitter.StrategySentence} {
		t.Run(strategy, func(t *testing.T) {
			s := mustSplitter(t, splitter.SplitterConfig{
				Strategy:     strategy,
				MaxChunkSize: 20,
				Overlap:      5,
				Lookback:     10,
			})

			slices, err := s.SplitPage(models.Page{URL: "https://example.com/fr", Text: long})
			require.NoError(t, err)
			require.NotEmpty(t, slices)

			runes := []rune(long)
			for _, sl := range slices {
				assert.True(t, utf8.ValidString(sl.Text), "chunk %q is not valid UTF-8", sl.Text)
				assert.LessOrEqual(t, utf8.RuneCountInString(sl.Text), 20)
				assert.Equal(t, sl.Text, string(runes[sl.Start:sl.End]))
			}

			// Accented text must survive the jsonl artifact intact and still
			// reconstruct exactly once the overlap is stripped.
			path := filepath.Join(t.TempDir(), "slices.jsonl")
			require.NoError(t, artifact.Write(path, slices))
			reread, err := artifact.Read[models.Slice](path)
			require.NoError(t, err)
			require.Equal(t, len(slices), len(reread))

			assert.Equal(t, long, reconstruct(reread, 5))
		})
	}
}

func TestShortTextYieldsSingleChunk(t *testing.T) {
	for _, strategy := range []string{splitter.StrategyFixed, splitter.StrategySentence} {
		t.Run(strategy, func(t *testing.T) {
			s := mustSplitter(t, splitter.SplitterConfig{
				Strategy:     strategy,
				MaxChunkSize: 1000,
				Overlap:      100,
			})

			slices, err := s.SplitPage(models.Page{URL: "https://example.com/x", Text: "tiny"})
			require.NoError(t, err)
			require.Len(t, slices, 1)
			assert.Equal(t, "tiny", slices[0].Text)
			assert.Equal(t, 0, slices[0].Start)
			assert.Equal(t, 4, slices[0].End)
		})
	}
}

func TestTrailingRemainderNeverDropped(t *testing.T) {
	// 25 chars with max 10, overlap 2: last window is shorter than max but
	// must still be emitted.
	text := "aaaaaaaaaabbbbbbbbbbccccc"
	s := mustSplitter(t, splitter.SplitterConfig{
		Strategy:     splitter.StrategyFixed,
		MaxChunkSize: 10,
		Overlap:      2,
	})

	slices, err := s.SplitPage(models.Page{URL: "https://example.com/x", Text: text})
	require.NoError(t, err)

	last := slices[len(slices)-1]
	assert.Equal(t, len(text), last.End)
	assert.Equal(t, text, reconstruct(slices, 2))
}

func TestSentenceStrategyPrefersSentenceBoundary(t *testing.T) {
	s := mustSplitter(t, splitter.SplitterConfig{
		Strategy:     splitter.StrategySentence,
		MaxChunkSize: 20,
		Overlap:      5,
		Lookback:     10,
	})

	slices, err := s.SplitPage(models.Page{URL: "https://example.com/x", Text: sampleText})
	require.NoError(t, err)
	require.NotEmpty(t, slices)

	// First cut lands just after "Sentence one." rather than mid-word.
	assert.Equal(t, "Sentence one.", slices[0].Text)
	assert.Equal(t, sampleText, reconstruct(slices, 5))
}

func TestSentenceStrategyHardCutFallback(t *testing.T) {
	// No delimiters at all: must fall back to fixed-width cuts.
	text := strings.Repeat("x", 55)
	s := mustSplitter(t, splitter.SplitterConfig{
		Strategy:     splitter.StrategySentence,
		MaxChunkSize: 20,
		Overlap:      5,
		Lookback:     10,
	})

	slices, err := s.SplitPage(models.Page{URL: "https://example.com/x", Text: text})
	require.NoError(t, err)
	for _, sl := range slices {
		assert.LessOrEqual(t, len(sl.Text), 20)
	}
	assert.Equal(t, text, reconstruct(slices, 5))
}

func TestEmptyPageIsSplitError(t *testing.T) {
	s := mustSplitter(t, splitter.SplitterConfig{MaxChunkSize: 100, Overlap: 10})

	_, err := s.SplitPage(models.Page{URL: "https://example.com/x", Text: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, splitter.ErrEmptyPage)
}

func TestSliceIdentityIsStable(t *testing.T) {
	s := mustSplitter(t, splitter.SplitterConfig{
		Strategy:     splitter.StrategyFixed,
		MaxChunkSize: 20,
		Overlap:      5,
	})
	page := models.Page{URL: "https://example.com/products/a", Text: sampleText}

	first, err := s.SplitPage(page)
	require.NoError(t, err)
	second, err := s.SplitPage(page)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.Equal(t, "https://example.com/products/a#0", first[0].ID)
}

func TestInvalidOverlapRejected(t *testing.T) {
	_, err := splitter.NewWithConfig(splitter.SplitterConfig{
		MaxChunkSize: 10,
		Overlap:      10,
	})
	assert.Error(t, err)
}
