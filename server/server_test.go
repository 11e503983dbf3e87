package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartie/sitebot/internal/models"
	"github.com/smartie/sitebot/pkg/llm"
	"github.com/smartie/sitebot/server"
)

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	results []models.SearchResult
	err     error
}

func (f *fakeSearcher) Search(context.Context, []float32, int) ([]models.SearchResult, error) {
	return f.results, f.err
}

type fakeAnswerer struct {
	gotResults []models.SearchResult
	err        error
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, results []models.SearchResult) (string, error) {
	f.gotResults = results
	if f.err != nil {
		return "", f.err
	}
	return "composed answer", nil
}

func newTestServer(searcher *fakeSearcher, answerer *fakeAnswerer) *httptest.Server {
	s := server.New(server.Config{Logger: zerolog.Nop()},
		&fakeEmbedder{}, searcher, answerer, llm.IsSmallTalk)
	return httptest.NewServer(s.Handler())
}

func postSearch(t *testing.T, url, query string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"query": query})
	resp, err := http.Post(url+"/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestGreet(t *testing.T) {
	ts := newTestServer(&fakeSearcher{}, &fakeAnswerer{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/greet")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Greeting string `json:"greeting"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Greeting, "Smartie")
}

func TestSearchReturnsAnswerAndResults(t *testing.T) {
	results := []models.SearchResult{
		{Content: "KitKat is a wafer bar.", Score: 0.91, SourceURL: "https://example.com/products/kitkat"},
	}
	answerer := &fakeAnswerer{}
	ts := newTestServer(&fakeSearcher{results: results}, answerer)
	defer ts.Close()

	resp := postSearch(t, ts.URL, "what is kitkat")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Answer  string                `json:"answer"`
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "composed answer", body.Answer)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "https://example.com/products/kitkat", body.Results[0].SourceURL)
	assert.Equal(t, results, answerer.gotResults)
}

func TestSearchSmallTalkSkipsRetrieval(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("should not be called")}
	ts := newTestServer(searcher, &fakeAnswerer{})
	defer ts.Close()

	resp := postSearch(t, ts.URL, "hello, who are you?")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Answer  string                `json:"answer"`
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "composed answer", body.Answer)
	assert.Empty(t, body.Results)
}

func TestSearchFailureIsGeneric(t *testing.T) {
	ts := newTestServer(&fakeSearcher{err: errors.New("neo4j is down, password hunter2")}, &fakeAnswerer{})
	defer ts.Close()

	resp := postSearch(t, ts.URL, "what is kitkat")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotContains(t, body.Error, "hunter2")
	assert.NotEmpty(t, body.Error)
}

func TestSearchRejectsBadRequests(t *testing.T) {
	ts := newTestServer(&fakeSearcher{}, &fakeAnswerer{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/search", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
