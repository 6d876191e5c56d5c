package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshaw/fablefriend/internal/artifacts"
	"github.com/dshaw/fablefriend/internal/session"
)

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. ":8080"

	// IdleTimeout evicts sessions with no activity for this long. Zero
	// disables the sweep.
	IdleTimeout time.Duration
}

// Server is the HTTP front end over the session manager.
type Server struct {
	config  Config
	mgr     *session.Manager
	art     *artifacts.Store
	feeds   *feedRegistry
	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
	logger  *log.Logger
}

// New creates a new Server. art may be nil when image persistence is
// disabled; the images endpoint then answers 404.
func New(cfg Config, mgr *session.Manager, art *artifacts.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		mgr:     mgr,
		art:     art,
		feeds:   newFeedRegistry(),
		baseCtx: ctx,
		cancel:  cancel,
		logger:  log.New(os.Stderr, "[fablefriend-server] ", log.LstdFlags),
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleBegin)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/action", s.handleAction)
	mux.HandleFunc("POST /sessions/{id}/continue", s.handleContinue)
	mux.HandleFunc("POST /sessions/{id}/rewind", s.handleRewind)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleReset)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /sessions/{id}/images/{hash}", s.handleImage)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	if s.config.IdleTimeout > 0 {
		go s.sweepIdle()
	}

	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// sweepIdle evicts idle sessions on a fixed cadence until shutdown.
func (s *Server) sweepIdle() {
	ticker := time.NewTicker(s.config.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			for _, id := range s.mgr.EvictIdle(s.config.IdleTimeout) {
				s.feeds.drop(id)
				s.logger.Printf("evicted idle session %s", id)
			}
		}
	}
}

// csrfProtect rejects cross-origin mutating requests. Browsers automatically
// set the Origin header on cross-origin requests, so checking it blocks CSRF
// from malicious web pages while allowing CLI/programmatic callers (which
// either omit Origin or set it to match the server).
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				// Allow only localhost-family origins. This blocks browser-based
				// CSRF from remote pages while allowing local web UIs.
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully stops the server and closes all event feeds.
func (s *Server) Shutdown() {
	s.feeds.closeAll()

	// Give HTTP connections time to drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
