package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jonwraymond/callcache/cache"
	"github.com/jonwraymond/callcache/health"
	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/stats"
)

// ErrMissingID is returned by the invalidation endpoint without an id.
var ErrMissingID = errors.New("admin: id is required")

// Config configures the admin handler.
type Config struct {
	// Cache is reported on and invalidated. Required.
	Cache *cache.Cache

	// Health, when set, is served on /healthz, /readyz and /health
	// without authentication.
	Health *health.Aggregator

	// Auth guards the /cache routes. Nil disables authentication.
	Auth *Authenticator

	// Logger receives one line per request.
	Logger observe.Logger
}

type server struct {
	cache  *cache.Cache
	logger observe.Logger
}

// NewHandler returns the admin HTTP API:
//
//	GET    /cache/entries?q=            live entries grouped by ID
//	DELETE /cache/entries?id=           invalidate by ID or fingerprint
//	GET    /cache/stats?q=&sort=&order= per-fingerprint statistics
//	GET    /cache/stats/groups?...      statistics aggregated per ID
//	GET    /cache/stats/fields          accepted sort fields
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Cache == nil {
		return nil, cache.ErrNilCache
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	s := &server{cache: cfg.Cache, logger: cfg.Logger}

	api := http.NewServeMux()
	api.HandleFunc("GET /cache/entries", s.listEntries)
	api.HandleFunc("DELETE /cache/entries", s.invalidate)
	api.HandleFunc("GET /cache/stats", s.listStats)
	api.HandleFunc("GET /cache/stats/groups", s.listGroups)
	api.HandleFunc("GET /cache/stats/fields", s.sortFields)

	root := http.NewServeMux()
	root.Handle("/cache/", cfg.Auth.Middleware(api))
	if cfg.Health != nil {
		health.RegisterHandlers(root, cfg.Health)
	}
	return s.logRequests(root), nil
}

func (s *server) listEntries(w http.ResponseWriter, r *http.Request) {
	groups, err := s.cache.Entries(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error(r.Context(), "admin: list entries failed", observe.F("error", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if groups == nil {
		groups = []cache.EntryGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type invalidateResponse struct {
	Removed      int      `json:"removed"`
	Fingerprints []string `json:"fingerprints"`
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	removed, err := s.cache.Invalidate(r.Context(), id)
	if err != nil {
		s.logger.Error(r.Context(), "admin: invalidate failed", observe.F("cache.id", id), observe.F("error", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := invalidateResponse{Removed: len(removed), Fingerprints: make([]string, 0, len(removed))}
	for _, e := range removed {
		resp.Fingerprints = append(resp.Fingerprints, e.Fingerprint)
	}
	s.logger.Info(r.Context(), "admin: invalidated",
		observe.F("cache.id", id),
		observe.F("removed", len(removed)),
		observe.F("principal", PrincipalFromContext(r.Context())))
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) listStats(w http.ResponseWriter, r *http.Request) {
	s.report(w, r, s.cache.Stats().Records)
}

func (s *server) listGroups(w http.ResponseWriter, r *http.Request) {
	s.report(w, r, s.cache.Stats().Groups)
}

func (s *server) report(w http.ResponseWriter, r *http.Request, fn func(stats.Query) ([]stats.Row, error)) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := fn(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if rows == nil {
		rows = []stats.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) sortFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stats.SortFields())
}

var errBadOrder = errors.New("admin: order must be asc or desc")

func parseQuery(r *http.Request) (stats.Query, error) {
	v := r.URL.Query()
	q := stats.Query{Filter: v.Get("q"), SortBy: v.Get("sort")}
	switch v.Get("order") {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return q, errBadOrder
	}
	return q, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "admin request",
			observe.F("method", r.Method),
			observe.F("path", r.URL.Path),
			observe.F("status", rec.status),
			observe.F("duration_ms", time.Since(start).Milliseconds()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
