package provider

import (
	"sync"
)

// AuthEventKind names a provider auth-state notification.
type AuthEventKind string

const (
	EventInitialSession       AuthEventKind = "INITIAL_SESSION"
	EventSignedIn             AuthEventKind = "SIGNED_IN"
	EventSignedOut            AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed       AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated          AuthEventKind = "USER_UPDATED"
	EventPasswordRecovery     AuthEventKind = "PASSWORD_RECOVERY"
	EventMFAChallengeVerified AuthEventKind = "MFA_CHALLENGE_VERIFIED"
)

// AuthEvent is one auth-state notification. Session is nil for sign-out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// Subscription is the handle returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Broadcaster fans auth events out to subscribers in registration order.
// Provider implementations embed it to satisfy OnAuthStateChange.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(AuthEvent)
	order  []int
	emitMu sync.Mutex
}

// OnAuthStateChange registers fn and returns its subscription.
func (b *Broadcaster) OnAuthStateChange(fn func(AuthEvent)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(AuthEvent))
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	return &subscription{b: b, id: id}
}

// Emit delivers ev to every subscriber. Emissions are serialised so subscribers observe a single order.
func (b *Broadcaster) Emit(ev AuthEvent) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.RLock()
	fns := make([]func(AuthEvent), 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(AuthEvent{Kind: ev.Kind, Session: ev.Session.Clone()})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

type subscription struct {
	b    *Broadcaster
	id   int
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.b.remove(s.id)
	})
}
