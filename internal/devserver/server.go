// Package devserver runs the local chat backend used for development and
// integration tests.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/citychat/internal/auth"
	"github.com/vovakirdan/citychat/internal/config"
	"github.com/vovakirdan/citychat/internal/moderation"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/conversations"
	"github.com/vovakirdan/citychat/internal/service/dmrequests"
	"github.com/vovakirdan/citychat/internal/service/messaging"
	"github.com/vovakirdan/citychat/internal/store"
	"github.com/vovakirdan/citychat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/citychat/internal/transport/http"
)

const defaultSweepInterval = time.Minute

// Server wires the store, relay hub and services behind the HTTP transport.
type Server struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sweepInterval   time.Duration
	dmRequests      *dmrequests.Service
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the backend with the provided configuration.
func New(cfg config.DevServer, logger *zerolog.Logger) (*Server, error) {
	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	}

	clk := clock.New()
	hub := relay.NewHub(logger)
	filter := moderation.NewFilter(cfg.BlockedWords)
	convs := conversations.New(st, hub, logger)
	deps := transporthttp.Deps{
		Auth:  auth.NewService(st, jwtConfig),
		Store: st,
		Hub:   hub,
		Messages: messaging.New(messaging.Options{
			Store:      st,
			Hub:        hub,
			Filter:     filter,
			Limiter:    messaging.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, clk),
			Clock:      clk,
			Logger:     logger,
			Moderators: cfg.Moderators,
		}),
		Conversations: convs,
		DMRequests: dmrequests.New(dmrequests.Options{
			Store:         st,
			Hub:           hub,
			Conversations: convs,
			Filter:        filter,
			TTL:           cfg.DMRequestTTL,
			Clock:         clk,
			Logger:        logger,
		}),
	}

	sweep := cfg.DMRequestTTL / 10
	if sweep <= 0 || sweep > defaultSweepInterval {
		sweep = defaultSweepInterval
	}

	return &Server{
		server:          transporthttp.NewServer(deps, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		sweepInterval:   sweep,
		dmRequests:      deps.DMRequests,
		store:           st,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler.
func (s *Server) Handler() stdhttp.Handler {
	return s.server.Handler
}

// Run listens on the configured address and blocks until ctx is cancelled
// or the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully and closes the store.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("dev server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return s.dmRequests.Sweep(gctx, s.sweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down http server")
		return s.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (s *Server) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close store")
		} else {
			s.log.Info().Msg("store closed")
		}
	}
}
