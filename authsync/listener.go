package authsync

import (
	"context"
	"errors"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultProfileTimeout = 5 * time.Second

// Listener reconciles identity-provider events into a session store.
type Listener struct {
	client   provider.Client
	store    *sessions.Store
	profiles profiles.Repo
	claims   *TransitionClaims
	logger   zerolog.Logger

	profileTimeout time.Duration

	mu                sync.Mutex
	ctx               context.Context
	sub               provider.Subscription
	started           bool
	stopped           bool
	lastAuthenticated bool
}

// Option configures the Listener.
type Option func(*Listener)

// WithLogger sets the listener's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithProfileTimeout bounds each profile lookup made for enrichment.
func WithProfileTimeout(d time.Duration) Option {
	return func(l *Listener) {
		l.profileTimeout = d
	}
}

// NewListener creates a listener. profileRepo may be nil, in which case identities are
// derived from the session alone.
func NewListener(client provider.Client, store *sessions.Store, profileRepo profiles.Repo, claims *TransitionClaims, options ...Option) (*Listener, error) {
	if client == nil {
		return nil, errors.New("[NewListener] Provider client is required")
	}
	if store == nil {
		return nil, errors.New("[NewListener] Session store is required")
	}
	if claims == nil {
		claims = &TransitionClaims{}
	}
	l := &Listener{
		client:         client,
		store:          store,
		profiles:       profileRepo,
		claims:         claims,
		logger:         log.Logger,
		profileTimeout: defaultProfileTimeout,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

// Start subscribes to provider events and then resolves the store from one authoritative
// session fetch. An event that arrives while the fetch is in flight is newer and wins.
// A fetch failure resolves the store to signed out.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("listener already started")
	}
	l.started = true
	l.ctx = ctx
	l.mu.Unlock()

	sub := l.client.OnAuthStateChange(l.handle)
	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()

	seq := l.store.NextSeq()
	session, err := l.client.GetSession(ctx)
	if err != nil {
		l.logger.Err(err).Stringer("kind", autherrors.Classify(err, "").Kind).Msg("initial session check failed, treating as signed out")
		l.apply(seq, nil, nil)
		return nil
	}
	if session == nil {
		l.apply(seq, nil, nil)
		return nil
	}
	l.apply(seq, session, l.enrich(ctx, session))
	return nil
}

// Stop releases the event subscription. It is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	if l.sub != nil {
		l.sub.Unsubscribe()
	}
}

// LastKnownAuthenticated reports the listener's view of the last applied state.
func (l *Listener) LastKnownAuthenticated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAuthenticated
}

func (l *Listener) handle(ev provider.AuthEvent) {
	seq := l.store.NextSeq()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	wasAuthenticated := l.lastAuthenticated
	l.mu.Unlock()
	if !wasAuthenticated {
		wasAuthenticated = l.store.Snapshot().Authenticated()
	}

	logger := l.logger.With().Str("event", string(ev.Kind)).Uint64("seq", seq).Logger()

	switch ev.Kind {
	case provider.EventSignedOut:
		l.apply(seq, nil, nil)
		return
	case provider.EventSignedIn, provider.EventInitialSession:
		if !wasAuthenticated && ev.Session != nil && l.claims.Held() {
			logger.Debug().Msg("sign-in transition owned by an in-flight action, deferring")
			return
		}
	}

	if ev.Session == nil {
		l.apply(seq, nil, nil)
		return
	}
	if !l.apply(seq, ev.Session, l.enrich(ctx, ev.Session)) {
		logger.Debug().Msg("stale auth event ignored")
	}
}

// apply writes to the store and tracks the last known authentication state.
func (l *Listener) apply(seq uint64, session *provider.Session, e *sessions.Enrichment) bool {
	applied := l.store.SetSession(seq, session, e)
	if applied {
		l.mu.Lock()
		l.lastAuthenticated = session != nil && !session.AwaitingSecondFactor()
		l.mu.Unlock()
	}
	return applied
}

// enrich fetches profile fields for session. Failures fall back to the bare session.
func (l *Listener) enrich(ctx context.Context, session *provider.Session) *sessions.Enrichment {
	if l.profiles == nil || session.UserID() == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, l.profileTimeout)
	defer cancel()

	p, err := l.profiles.Get(ctx, session.UserID())
	if err != nil {
		if !errors.Is(err, autherrors.ErrNotFound) {
			l.logger.Warn().Err(err).Str("user_id", session.UserID()).Msg("profile enrichment failed, using bare session")
		}
		return nil
	}
	return sessions.EnrichmentFromProfile(p)
}
