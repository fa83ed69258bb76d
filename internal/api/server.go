// Package api serves recorded runs and output layers over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/metrics"
	"github.com/sells-group/drastic-cli/internal/publish"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/store"
)

// Options tunes the server.
type Options struct {
	// StatsCacheSize bounds the computed layer statistics kept in memory.
	StatsCacheSize int
	TileCacheSize  int
	TileTTL        time.Duration
	CORSOrigins    []string
	HistogramBins  int
}

func (o Options) withDefaults() Options {
	if o.StatsCacheSize <= 0 {
		o.StatsCacheSize = 128
	}
	if o.TileCacheSize <= 0 {
		o.TileCacheSize = 1024
	}
	if o.TileTTL <= 0 {
		o.TileTTL = time.Hour
	}
	if len(o.CORSOrigins) == 0 {
		o.CORSOrigins = []string{"*"}
	}
	if o.HistogramBins <= 0 {
		o.HistogramBins = 10
	}
	return o
}

// Server exposes the run store, layer files and optional PostGIS tiles.
type Server struct {
	store   store.Store
	metrics *metrics.Provider
	tiles   publish.TileSource
	opts    Options

	stats     *lru.Cache[string, raster.Stats]
	tileCache *expirable.LRU[string, []byte]
	log       *zap.Logger
}

// New builds a server. m and tiles may be nil.
func New(st store.Store, m *metrics.Provider, tiles publish.TileSource, opts Options) (*Server, error) {
	if st == nil {
		return nil, eris.New("api: store is required")
	}
	opts = opts.withDefaults()
	stats, err := lru.New[string, raster.Stats](opts.StatsCacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "api: stats cache")
	}
	return &Server{
		store:     st,
		metrics:   m,
		tiles:     tiles,
		opts:      opts,
		stats:     stats,
		tileCache: expirable.NewLRU[string, []byte](opts.TileCacheSize, nil, opts.TileTTL),
		log:       zap.L().With(zap.String("component", "api")),
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.observe)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
		r.Get("/{id}/phases", s.listPhases)
	})
	r.Route("/layers", func(r chi.Router) {
		r.Get("/", s.listLayers)
		r.Get("/{id}", s.getLayer)
		r.Get("/{id}/download", s.downloadLayer)
		r.Get("/{id}/stats", s.layerStats)
	})
	r.Get("/tiles/{layer}/{z}/{x}/{y}.pbf", s.tile)
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "api: shutdown")
	case err := <-errCh:
		return eris.Wrap(err, "api: listen")
	}
}

// observe logs each request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Request(route, strconv.Itoa(status))
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps a store failure to a response.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("api: store failure", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// pageParams reads limit and offset; malformed values are a 400.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, eris.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, eris.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}
