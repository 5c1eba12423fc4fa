package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

type Server interface {
	// Listen binds the port. Serve must be called afterwards.
	Listen() error
	Serve() error
	Addr() string
	Shutdown(ctx context.Context) error
}

type server struct {
	httpSrv *http.Server
	ln      net.Listener
	log     *zap.Logger
}

func newServer(log *zap.Logger, conf Config, handler http.Handler) Server {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(conf.Port),
		Handler:           handler,
		ReadHeaderTimeout: conf.Connection.ReadHeaderTimeout,
		ReadTimeout:       conf.Connection.ReadTimeout,
		WriteTimeout:      conf.Connection.WriteTimeout,
		IdleTimeout:       conf.Connection.IdleTimeout,
		MaxHeaderBytes:    conf.Connection.MaxHeaderBytes,
	}
	return &server{
		httpSrv: srv,
		log:     log,
	}
}

func (s *server) Listen() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpSrv.Addr, err)
	}
	s.ln = ln
	s.log.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *server) Serve() error {
	if s.ln == nil {
		return errors.New("server is not listening")
	}
	if err := s.httpSrv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("HTTP server stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.httpSrv.Addr
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
