// Package httpapi is the control plane's external HTTP/JSON interface: a
// gorilla/mux router, gorilla/websocket for the streaming routes, and a
// golang.org/x/time/rate limiter, wired over an Application, an
// auth.Authenticator, and a storage.Store.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/clintjedwards/gofer-sub002/internal/app"
	"github.com/clintjedwards/gofer-sub002/internal/auth"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// Config configures the listener and request-rate budget.
type Config struct {
	ListenAddress  string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is an app.Service: Start opens the listener and serves in the
// background, Stop gracefully shuts the HTTP server down.
type Server struct {
	app     *app.Application
	authn   *auth.Authenticator
	limiter *RateLimiter
	log     *logger.Logger
	http    *http.Server
}

func New(a *app.Application, cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{
		app:     a,
		authn:   a.Auth,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log),
		log:     log,
	}
	s.http = &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: newRouter(s),
	}
	return s
}

func (s *Server) Name() string { return "httpapi" }

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithField("error", err.Error()).Error("http server stopped unexpectedly")
		}
	}()
	s.log.WithField("address", ln.Addr().String()).Info("http api listening")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

var _ app.Service = (*Server)(nil)
