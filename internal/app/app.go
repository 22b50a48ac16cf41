package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/citychat/internal/api"
	"github.com/vovakirdan/citychat/internal/chat"
	"github.com/vovakirdan/citychat/internal/config"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/session"
	"github.com/vovakirdan/citychat/internal/transport/wsclient"
)

// ErrNoIdentity is returned by Run when neither a token nor a username is configured.
var ErrNoIdentity = errors.New("no token or username configured")

// App wires the chat client: bus, session, translator, reconciler and REST.
type App struct {
	cfg   config.Config
	log   *zerolog.Logger
	clock clock.Clock

	bus        *events.Bus
	session    *session.Manager
	translator *chat.Translator
	reconciler *chat.Reconciler
	api        *api.Client
	chat       *chat.Service

	tokenMu sync.RWMutex
	token   string
}

// Option customises an App.
type Option func(*App)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(a *App) { a.clock = clk }
}

// New constructs the client with provided configuration. ctx bounds
// background helpers such as the search cache.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger, opts ...Option) (*App, error) {
	codec, err := proto.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: logger, clock: clock.New(), token: cfg.Token}
	for _, opt := range opts {
		opt(a)
	}

	a.bus = events.NewBus(logger)
	a.session = session.NewManager(session.Options{
		Dialer: wsclient.New(cfg.ServerURL, codec, logger),
		Bus:    a.bus,
		Logger: logger,
		Clock:  a.clock,
		Tokens: a.Token,
		Backoff: session.Backoff{
			Base:        cfg.Reconnect.BaseDelay,
			Max:         cfg.Reconnect.MaxDelay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		DialTimeout:       cfg.DialTimeout,
		RejoinOnReconnect: cfg.RejoinOnReconnect,
	})

	a.translator = chat.NewTranslator(chat.TranslatorOptions{
		Sender:        a.session,
		Bus:           a.bus,
		Logger:        logger,
		Clock:         a.clock,
		TypingTimeout: cfg.TypingTimeout,
	})
	a.translator.Attach(a.session)

	a.reconciler = chat.NewReconciler(a.bus, a.clock, logger)
	a.reconciler.Attach()

	a.api = api.New(ctx, api.Options{
		BaseURL:   cfg.APIURL,
		Tokens:    a.Token,
		Logger:    logger,
		Timeout:   cfg.RequestTimeout,
		SearchTTL: cfg.SearchCacheTTL,
	})

	a.chat = chat.NewService(chat.ServiceOptions{
		Backend:     a.api,
		Rooms:       a.session,
		Translator:  a.translator,
		Reconciler:  a.reconciler,
		Logger:      logger,
		GlobalRoom:  cfg.GlobalRoom,
		DisplayName: cfg.Username,
	})
	a.chat.Attach()
	return a, nil
}

// Token returns the current bearer token.
func (a *App) Token() string {
	a.tokenMu.RLock()
	defer a.tokenMu.RUnlock()
	return a.token
}

func (a *App) setToken(tok string) {
	a.tokenMu.Lock()
	a.token = tok
	a.tokenMu.Unlock()
}

// Bus returns the event bus views subscribe to.
func (a *App) Bus() *events.Bus { return a.bus }

// Session returns the connection manager.
func (a *App) Session() *session.Manager { return a.session }

// Chat returns the chat flows.
func (a *App) Chat() *chat.Service { return a.chat }

// Login obtains a token for the configured username from the development
// backend when no token is configured.
func (a *App) Login(ctx context.Context) error {
	if a.Token() != "" {
		return nil
	}
	if a.cfg.Username == "" {
		return ErrNoIdentity
	}
	tok, err := a.api.IssueToken(ctx, a.cfg.Username)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	a.setToken(tok.Token)
	a.log.Info().Str("username", tok.Username).Str("user_id", tok.UserID).Msg("token issued")
	return nil
}

// Run connects and keeps the chat state in sync until ctx is cancelled.
// Every successful authentication triggers a fresh bootstrap.
func (a *App) Run(ctx context.Context) error {
	if err := a.Login(ctx); err != nil {
		return err
	}

	authed := make(chan struct{}, 1)
	id := events.Subscribe(a.bus, events.Authenticated, func(events.AuthenticatedPayload) {
		select {
		case authed <- struct{}{}:
		default:
		}
	})
	defer a.bus.Off(events.Authenticated, id)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.session.Connect(gctx); err != nil {
			// The manager schedules its own reconnects.
			a.log.Warn().Err(err).Msg("initial connect failed")
		}
		<-gctx.Done()
		a.session.Disconnect()
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-authed:
				if err := a.chat.Bootstrap(gctx); err != nil && gctx.Err() == nil {
					a.log.Warn().Err(err).Msg("bootstrap failed")
				}
			}
		}
	})

	g.Go(func() error {
		interval := a.cfg.DMRequestSweep
		if interval <= 0 {
			return nil
		}
		ticker := a.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if expired := a.chat.ExpireDMRequests(); len(expired) > 0 {
					a.log.Debug().Int("count", len(expired)).Msg("DM requests expired locally")
				}
			}
		}
	})

	return g.Wait()
}
