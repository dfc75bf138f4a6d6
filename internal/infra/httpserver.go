package infra

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type HTTPServer struct {
	srv    *http.Server
	logger Logger
}

type HTTPServerOptions struct {
	Port         string
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func NewHTTPServer(opts HTTPServerOptions, logger Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:         ":" + opts.Port,
			Handler:      opts.Handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		logger: logger,
	}
}

// Start blocks until the listener stops. A graceful Shutdown is not an
// error from the caller's point of view.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
