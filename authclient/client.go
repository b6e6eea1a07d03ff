package authclient

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-fitness-auth/actions"
	"github.com/jrsteele09/go-fitness-auth/authsync"
	"github.com/jrsteele09/go-fitness-auth/guard"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is one UI instance's auth state: a session store kept in sync with the identity
// provider and the actions that drive it.
type Client struct {
	store    *sessions.Store
	listener *authsync.Listener
	actions  *actions.Service
	onClose  []func()
	closed   sync.Once
}

type config struct {
	logger          zerolog.Logger
	siteURL         string
	metadataTimeout time.Duration
	nowTime         func() time.Time
	onClose         []func()
}

// Option configures a Client.
type Option func(*config)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func WithSiteURL(siteURL string) Option {
	return func(c *config) { c.siteURL = siteURL }
}

func WithMetadataTimeout(d time.Duration) Option {
	return func(c *config) { c.metadataTimeout = d }
}

func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *config) { c.nowTime = nowFunc }
}

// WithOnClose runs fn when the client is closed, e.g. to stop a background token refresher.
func WithOnClose(fn func()) Option {
	return func(c *config) { c.onClose = append(c.onClose, fn) }
}

// New wires the store, listener and actions and starts the listener. The listener keeps ctx for
// profile lookups, so it should outlive any single request.
func New(ctx context.Context, client provider.Client, profileRepo profiles.Repo, options ...Option) (*Client, error) {
	if client == nil {
		return nil, errors.New("[authclient.New] Provider client is required")
	}
	cfg := config{logger: log.Logger}
	for _, opt := range options {
		opt(&cfg)
	}

	store := sessions.NewStore()
	claims := &authsync.TransitionClaims{}

	listener, err := authsync.NewListener(client, store, profileRepo, claims, authsync.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	actionOpts := []actions.Option{actions.WithLogger(cfg.logger)}
	if cfg.siteURL != "" {
		actionOpts = append(actionOpts, actions.WithSiteURL(cfg.siteURL))
	}
	if cfg.metadataTimeout > 0 {
		actionOpts = append(actionOpts, actions.WithMetadataTimeout(cfg.metadataTimeout))
	}
	if cfg.nowTime != nil {
		actionOpts = append(actionOpts, actions.WithNowTime(cfg.nowTime))
	}
	service, err := actions.NewService(client, store, profileRepo, claims, actionOpts...)
	if err != nil {
		return nil, err
	}

	if err := listener.Start(ctx); err != nil {
		return nil, err
	}
	return &Client{store: store, listener: listener, actions: service, onClose: cfg.onClose}, nil
}

func (c *Client) Store() *sessions.Store {
	return c.store
}

func (c *Client) Actions() *actions.Service {
	return c.actions
}

func (c *Client) Snapshot() sessions.Snapshot {
	return c.store.Snapshot()
}

// Navigate resets the displayed action outcome and returns the guard's decision for the target.
func (c *Client) Navigate(path string, query url.Values) guard.Decision {
	c.actions.Operations().Reset()
	return guard.Decide(c.store.Snapshot(), path, query)
}

// Close stops listening for provider events and runs the WithOnClose hooks once.
func (c *Client) Close() {
	c.listener.Stop()
	c.closed.Do(func() {
		for _, fn := range c.onClose {
			fn()
		}
	})
}
