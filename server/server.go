package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// Server represents HTTP server instance
type Server struct {
	cfg     *config.Config
	store   Store
	version string
	debug   bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Store is the persistence surface the HTTP handlers need
type Store interface {
	AllHistory(ctx context.Context) ([]domain.HistoryRecord, error)
	HistoryBySource(ctx context.Context) (map[string][]domain.HistoryRecord, error)
	DeleteHistoryByKey(ctx context.Context, key string) error
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	ListSubHistory(ctx context.Context) ([]domain.Subscription, error)
	ListSites(ctx context.Context) ([]domain.Site, error)
	AddLibraryItem(ctx context.Context, tmdbID int64, mtype domain.MediaType, season int) error
}

// New initializes a new server instance
func New(cfg *config.Config, store Store, version string, debug bool) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		version: version,
		debug:   debug,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.cfg.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("rankpilot", "LDBZnazimay", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /subscribe/list", s.tokenGated("token", s.subscribeListHandler))

		r.Mount("/plugin/rankpilot").Route(func(p *routegroup.Bundle) {
			p.HandleFunc("GET /history", s.tokenGated("apikey", s.historyHandler))
			p.HandleFunc("GET /delete_history", s.tokenGated("apikey", s.deleteHistoryHandler))
			p.HandleFunc("GET /library_add", s.tokenGated("apikey", s.libraryAddHandler))
			p.HandleFunc("GET /migrate-history", s.tokenGated("migrate_api_token", s.migrateHistoryHandler))
			p.HandleFunc("GET /migrate-config", s.tokenGated("migrate_api_token", s.migrateConfigHandler))
			p.HandleFunc("GET /sites", s.tokenGated("migrate_api_token", s.sitesHandler))
			p.HandleFunc("GET /sub-history", s.tokenGated("migrate_api_token", s.subHistoryHandler))
		})
	})
}

// tokenGated wraps a handler with the token check. Peers expect failures as
// an HTTP 200 with a success:false body, not a status code.
func (s *Server) tokenGated(param string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(param) != s.cfg.API.Token {
			lgr.Printf("[WARN] rejected %s, bad %s", r.URL.Path, param)
			RenderJSON(w, r, http.StatusOK, map[string]any{"success": false, "message": "invalid api token"})
			return
		}
		next(w, r)
	}
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	RenderJSON(w, r, http.StatusOK, status)
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}
