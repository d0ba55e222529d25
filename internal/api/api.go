// Package api is the read/control HTTP surface: the article feed, search,
// category counts, manual pipeline triggers, schedule management and
// operational statistics. It is mounted on the observability server's mux.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/categories"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/process/pipeline"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// CategoryResolver maps stored raw AI labels onto the display taxonomy.
// The handlers resolve on every request, so a mapping row added by an
// operator takes effect for already processed articles immediately.
type CategoryResolver interface {
	ResolveAll(ctx context.Context, labels []string, confidences []float32) []categories.Resolution
	ResolveLabel(ctx context.Context, label string, confidence float32) categories.Resolution
}

// Server holds the handler dependencies.
type Server struct {
	cfg        *config.Config
	db         *db.DB
	pipeline   *pipeline.Pipeline
	categories CategoryResolver
	logger     zerolog.Logger
}

func New(cfg *config.Config, database *db.DB, pl *pipeline.Pipeline, cats CategoryResolver, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		db:         database,
		pipeline:   pl,
		categories: cats,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the route table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /article/{id}", s.handleArticle)
	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("GET /search", s.handleSearch)

	mux.HandleFunc("POST /process/run", s.handleProcessRun)
	mux.HandleFunc("POST /telegram/send-digest", s.handleSendDigest)
	mux.HandleFunc("POST /summaries/generate", s.handleGenerateSummaries)

	mux.HandleFunc("GET /schedule/settings", s.handleScheduleSettings)
	mux.HandleFunc("PUT /schedule/settings/{task}", s.handleUpdateSchedule)
	mux.HandleFunc("GET /schedule/status", s.handleScheduleStatus)

	mux.HandleFunc("GET /stats/queue", s.handleQueueStats)
	mux.HandleFunc("GET /stats/extractor", s.handleExtractorStats)
	mux.HandleFunc("GET /stats/dashboard", s.handleDashboardStats)

	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encoding response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses a positive integer query parameter, returning def when
// absent or invalid.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}

	return v
}

func queryBool(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultFeedLimit
	}

	if limit > maxFeedLimit {
		return maxFeedLimit
	}

	return limit
}
