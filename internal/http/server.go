package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Engine *gin.Engine

	onShutdown []func()
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

// OnShutdown registers f to run when shutdown starts. Long-lived handlers such
// as event streams must be ended here or they hold the drain open.
func (s *Server) OnShutdown(f func()) {
	s.onShutdown = append(s.onShutdown, f)
}

// Run serves on address until ctx is cancelled, then drains in-flight requests
// for up to drain.
func (s *Server) Run(ctx context.Context, address string, drain time.Duration) error {
	srv := &nethttp.Server{
		Addr:              address,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, f := range s.onShutdown {
		srv.RegisterOnShutdown(f)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = srv.Close()
	}
	if srvErr := <-errCh; srvErr != nil && !errors.Is(srvErr, nethttp.ErrServerClosed) {
		return errors.Join(err, srvErr)
	}
	return err
}
