package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartie/sitebot/internal/models"
)

const defaultGreeting = "Hey! I'm Smartie, your personal site assistant. Ask me anything, " +
	"and I'll quickly search the entire site to find the answers you need!"

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SearchLimit  int
	Greeting     string
	Logger       zerolog.Logger
}

// QueryEmbedder embeds a query with the same model used at ingestion.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Searcher is the vector-similarity lookup against the store.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error)
}

// Answerer composes the final answer from the retrieved slices.
type Answerer interface {
	Answer(ctx context.Context, query string, results []models.SearchResult) (string, error)
}

// SmallTalker decides when retrieval can be skipped entirely.
type SmallTalker func(query string) bool

// Server exposes the query-time search over the ingested store.
type Server struct {
	config    Config
	embedder  QueryEmbedder
	searcher  Searcher
	answerer  Answerer
	smallTalk SmallTalker
}

func New(config Config, embedder QueryEmbedder, searcher Searcher, answerer Answerer, smallTalk SmallTalker) *Server {
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.Greeting == "" {
		config.Greeting = defaultGreeting
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 60 * time.Second
	}
	if smallTalk == nil {
		smallTalk = func(string) bool { return false }
	}

	return &Server{
		config:    config,
		embedder:  embedder,
		searcher:  searcher,
		answerer:  answerer,
		smallTalk: smallTalk,
	}
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Answer  string                `json:"answer,omitempty"`
	Results []models.SearchResult `json:"results"`
}

type greetResponse struct {
	Greeting string `json:"greeting"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/greet", s.handleGreet)
	return mux
}

func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.config.Logger.Info().Str("addr", s.config.Addr).Msg("serving")
	return srv.ListenAndServe()
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, greetResponse{Greeting: s.config.Greeting})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing query"})
		return
	}

	ctx := r.Context()

	// Small talk skips retrieval and answers from the system prompt alone.
	if s.smallTalk(req.Query) {
		answer, err := s.answerer.Answer(ctx, req.Query, nil)
		if err != nil {
			s.fail(w, err, "chat failed")
			return
		}
		writeJSON(w, http.StatusOK, searchResponse{Answer: answer, Results: []models.SearchResult{}})
		return
	}

	embedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		s.fail(w, err, "query embedding failed")
		return
	}

	results, err := s.searcher.Search(ctx, embedding, s.config.SearchLimit)
	if err != nil {
		s.fail(w, err, "search failed")
		return
	}

	answer, err := s.answerer.Answer(ctx, req.Query, results)
	if err != nil {
		s.fail(w, err, "chat failed")
		return
	}

	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Answer: answer, Results: results})
}

// fail logs the real error and hands the client a generic message.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	s.config.Logger.Error().Err(err).Msg(msg)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "something went wrong, please try again"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
