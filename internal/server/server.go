package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/handler"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
)

type Server struct {
	port   int
	router http.Handler
	config commons.Config
}

func NewServer(config commons.Config, emitter handler.Emitter) *Server {
	server := &Server{
		port:   int(config.ServerPort),
		config: config,
	}
	if config.IngestTokenHash == "" {
		logger.Warnf("INGEST_TOKEN_HASH is not set, ingest endpoints are unauthenticated")
	}
	server.registerRoutes(emitter)
	return server
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger.Infof("starting server on port %d", s.port)
	ch := make(chan error, 1)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		IdleTimeout:  commons.ServerIdleTimeout,
		ReadTimeout:  commons.ServerReadTimeout,
		WriteTimeout: commons.ServerWriteTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ch <- fmt.Errorf("failed to start server: %w", err)
		}
		close(ch)
	}()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), commons.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}
