// Package server exposes a resolved table over a small read-only HTTP API.
//
//	GET /healthz            liveness
//	GET /table              name, columns and primary key
//	GET /rows/count         number of rows
//	GET /rows/{pk}          one row by primary key
//	GET /rows/{pk}/graph    the row and every row reachable through the pointer map
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/pgtable/internal/config"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/logger"
)

// Rows is the part of *table.Table the server reads through.
type Rows interface {
	Name() string
	Columns() []string
	PrimaryKey() string
	RowCount(ctx context.Context) (int64, error)
	Get(ctx context.Context, pk any) (map[string]any, error)
	Graph(ctx context.Context, pk any) (database.ResultSet, error)
	Records(rs database.ResultSet) []map[string]any
}

type Server struct {
	rows   Rows
	cfg    config.ServerConfig
	log    *logger.Logger
	router chi.Router
}

// New builds the router. log may be nil.
func New(rows Rows, cfg config.ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		rows: rows,
		cfg:  cfg,
		log:  log.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/table", s.handleTable)
	r.Route("/rows", func(r chi.Router) {
		r.Get("/count", s.handleCount)
		r.Get("/{pk}", s.handleGet)
		r.Get("/{pk}/graph", s.handleGraph)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.InfoWith("request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down within
// the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWith("listening", map[string]interface{}{"addr": ln.Addr().String(), "table": s.rows.Name()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
