// Package shell serves the local web interface used to start, stop and follow batch runs.
package shell

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emilemassie/gemini-receipts/internal/batch"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
)

// shutdownTimeout bounds how long in-flight requests get after a stop signal
const shutdownTimeout = 10 * time.Second

// ScannerFactory builds a Scanner for one run from the user's credential
type ScannerFactory func(key string) (scanning.Scanner, error)

// CredentialStore loads and saves the API credential
type CredentialStore interface {
	Load() (string, bool)
	Save(key string) error
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for the batch runner
type Server struct {
	runner     *batch.Runner
	settings   CredentialStore
	newScanner ScannerFactory
	basicAuth  BasicAuth
	mux        *http.ServeMux
	feed       *feed

	// runCtx is the parent context of every run
	runCtx context.Context
}

// NewServer creates a new Server with default mux
func NewServer(runner *batch.Runner, settings CredentialStore, newScanner ScannerFactory, basicAuth BasicAuth) *Server {
	return NewServerWithMux(runner, settings, newScanner, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(runner *batch.Runner, settings CredentialStore, newScanner ScannerFactory, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		runner:     runner,
		settings:   settings,
		newScanner: newScanner,
		basicAuth:  basicAuth,
		mux:        mux,
		feed:       newFeed(),
		runCtx:     context.Background(),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return user == s.basicAuth.Username && pass == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Gemini Receipts"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.requireAuth(s.handleStaticCSS))
	s.mux.HandleFunc("GET /static/app.js", s.requireAuth(s.handleStaticJS))

	s.mux.HandleFunc("GET /api/settings", s.requireAuth(s.handleGetSettings))
	s.mux.HandleFunc("PUT /api/settings", s.requireAuth(s.handlePutSettings))

	s.mux.HandleFunc("GET /api/runs/events", s.requireAuth(s.handleRunEvents))
	s.mux.HandleFunc("GET /api/runs/current", s.requireAuth(s.handleGetRun))
	s.mux.HandleFunc("DELETE /api/runs/current", s.requireAuth(s.handleStopRun))
	s.mux.HandleFunc("POST /api/runs", s.requireAuth(s.handleStartRun))

	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// Start serves HTTP on addr until ctx is done, then stops any active run,
// shuts the listener down gracefully and waits for the run to finish.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.runCtx = ctx
	srv := &http.Server{
		Addr:        addr,
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		if s.runner.Stop() {
			slog.Info("Stopping active run")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		s.runner.Wait()
		return err
	})
	return g.Wait()
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
