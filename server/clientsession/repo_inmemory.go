package clientsession

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-fitness-auth/authclient"
	"golang.org/x/sync/singleflight"
)

// InMemoryRepo keeps client sessions in process memory.
type InMemoryRepo struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	nowTime     func() time.Time

	// creating collapses concurrent GetOrCreate calls for one id into a single client build.
	creating singleflight.Group
}

type Option func(*InMemoryRepo)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(r *InMemoryRepo) {
		r.nowTime = nowFunc
	}
}

func NewInMemoryRepo(idleTimeout time.Duration, options ...Option) *InMemoryRepo {
	r := &InMemoryRepo{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		nowTime:     time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Upsert stores client under sessionID. A client it replaces is closed.
func (r *InMemoryRepo) Upsert(sessionID string, client *authclient.Client) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if client == nil {
		return fmt.Errorf("client is required")
	}

	r.mu.Lock()
	now := r.nowTime()
	previous := r.sessions[sessionID]
	r.sessions[sessionID] = &Session{Client: client, CreatedAt: now, LastSeen: now}
	r.mu.Unlock()

	if previous != nil && previous.Client != client {
		previous.Client.Close()
	}
	return nil
}

func (r *InMemoryRepo) GetOrCreate(sessionID string, create func() (*authclient.Client, error)) (Session, bool, error) {
	if create == nil {
		return Session{}, false, fmt.Errorf("create is required")
	}
	s, err := r.Get(sessionID)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, false, err
	}

	v, err, _ := r.creating.Do(sessionID, func() (any, error) {
		// An earlier flight for this id may have stored its client after our Get.
		if s, err := r.Get(sessionID); err == nil {
			return s, nil
		}
		client, err := create()
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("create returned no client")
		}
		r.mu.Lock()
		now := r.nowTime()
		s := &Session{Client: client, CreatedAt: now, LastSeen: now}
		r.sessions[sessionID] = s
		r.mu.Unlock()
		return *s, nil
	})
	if err != nil {
		return Session{}, false, err
	}
	return v.(Session), true, nil
}

func (r *InMemoryRepo) Get(sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.LastSeen = r.nowTime()
	return *s, nil
}

func (r *InMemoryRepo) Delete(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok {
		s.Client.Close()
	}
	return nil
}

func (r *InMemoryRepo) ExpireIdle() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := r.nowTime().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Client.Close()
	}
	return len(expired)
}

// Close closes every client.
func (r *InMemoryRepo) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Client.Close()
	}
}

// Len returns the number of live sessions.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
