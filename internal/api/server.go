// Package api serves the local control API. It lets scripts and other
// frontends list sessions, answer consent requests and follow changes over a
// websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DefaultPort is the port the control API listens on.
const DefaultPort = 9301

// Coordinator is the part of the router the API drives.
type Coordinator interface {
	Act(ctx context.Context, id transfer.ID, a session.Action) error
	Dismiss(ctx context.Context, id transfer.ID) error
	Send(ctx context.Context, req transfer.SendRequest) (transfer.ID, error)
	Sessions(ctx context.Context) ([]session.Snapshot, error)
	Session(ctx context.Context, id transfer.ID) (session.Snapshot, error)
	Endpoints(ctx context.Context) ([]transfer.Endpoint, error)
	Subscribe(buffer int) (<-chan router.Notification, func())
}

// Server contains the necessary data to run the control API.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	coordinator Coordinator
	logger      *zap.Logger
	version     semver.Version
	origins     []string
}

type Option func(*Server)

// WithAllowedOrigins lets browser frontends served from origins matching one
// of patterns use the api. Patterns are matched against the origin host with
// path.Match.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) {
		s.origins = append(s.origins, patterns...)
	}
}

// NewServer constructs a new Server and sets up the routes. It only listens
// on the loopback interface.
func NewServer(port int, version semver.Version, c Coordinator, logger *zap.Logger, opts ...Option) *Server {
	router := &mux.Router{}
	stdLoggerWrapper, _ := zap.NewStdLogAt(logger, zap.ErrorLevel)
	s := &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("127.0.0.1:%d", port),
			ReadTimeout: 30 * time.Second,
			Handler:     router,
			ErrorLog:    stdLoggerWrapper,
		},
		router:      router,
		coordinator: c,
		logger:      logger,
		version:     version,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the server until ctx is cancelled and then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	s.logger.Info("serving control api",
		zap.String("version", s.version.String()),
		zap.String("address", s.httpServer.Addr))

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("serving control api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("shutting down control api: %w", err)
	}
	s.logger.Info("control api shut down")
	return nil
}
