package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/router"
)

// maxBody bounds request bodies; scanned pages can be large.
const maxBody = 16 << 20

// Dispatcher is the message router behind the HTTP API.
type Dispatcher interface {
	Dispatch(ctx context.Context, req router.Request) router.Envelope
}

type Server struct {
	Router   Dispatcher
	Username string
	Password string
}

func New(r Dispatcher, user, pass string) *Server {
	return &Server{
		Router:   r,
		Username: user,
		Password: pass,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/messages", s.basicAuth(s.handleMessage))
	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))
	mux.HandleFunc("POST /api/refresh", s.basicAuth(s.handleRefresh))
	mux.HandleFunc("POST /api/scan", s.basicAuth(s.handleScan))
	mux.HandleFunc("GET /api/platforms/{id}/ping", s.basicAuth(s.handlePing))
	mux.HandleFunc("DELETE /api/cache/{family}", s.basicAuth(s.handleClear))
	mux.HandleFunc("DELETE /api/cache/{family}/{id}", s.basicAuth(s.handleClear))
	mux.HandleFunc("GET /api/entities/{family}/{platform}/{entity}", s.basicAuth(s.handleEntity))

	return mux
}

// Start serves the API on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Log.Infof("Starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
