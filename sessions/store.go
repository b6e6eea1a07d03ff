package sessions

import (
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-fitness-auth/provider"
)

// Snapshot is a consistent copy of the store's state.
type Snapshot struct {
	Session  *provider.Session
	Identity *Identity
	// Loading is true until the first resolution, and afterwards only when set explicitly.
	Loading  bool
	Resolved bool
	// SecondFactorPending is set when the last update was a session still waiting for its
	// second factor. The session itself is not kept.
	SecondFactorPending bool
	// Seq is the tag of the last applied update.
	Seq uint64
}

// Authenticated reports whether a session is present.
func (s Snapshot) Authenticated() bool {
	return s.Session != nil
}

// Store holds the client's single session and the identity derived from it.
//
// Every transition takes a tag from NextSeq before it starts its work. An update whose tag is
// not newer than the last applied one is ignored, so a slow transition cannot overwrite a
// newer one regardless of completion order. Session and identity are replaced together under
// one lock, and observers are notified in the order updates were applied.
type Store struct {
	issued atomic.Uint64

	mu         sync.Mutex
	applied    uint64
	session    *provider.Session
	identity   *Identity
	enrichment *Enrichment
	loading    bool
	resolved   bool
	mfaPending bool

	notifyMu  sync.Mutex
	observers map[int]func(Snapshot)
	order     []int
	nextObsID int
}

func NewStore() *Store {
	return &Store{
		loading:   true,
		observers: make(map[int]func(Snapshot)),
	}
}

// NextSeq issues a new transition tag.
func (s *Store) NextSeq() uint64 {
	return s.issued.Add(1)
}

// SetSession replaces the session and recomputes identity. A nil enrichment keeps previously
// fetched profile fields when the user is unchanged. A nil session clears, and so does a session
// awaiting its second factor, which only marks the snapshot SecondFactorPending. It reports
// whether the update was applied.
func (s *Store) SetSession(seq uint64, session *provider.Session, e *Enrichment) bool {
	if session == nil {
		return s.Clear(seq)
	}
	if session.AwaitingSecondFactor() {
		return s.clear(seq, true)
	}
	s.mu.Lock()
	if seq <= s.applied {
		s.mu.Unlock()
		return false
	}
	if e == nil && s.session.UserID() == session.UserID() {
		e = s.enrichment
	}
	s.applied = seq
	s.mfaPending = false
	s.session = session.Clone()
	s.enrichment = copyEnrichment(e)
	s.identity = DeriveIdentity(s.session, s.enrichment)
	s.resolveLocked()
	s.publishLocked()
	return true
}

// Clear removes session and identity together.
func (s *Store) Clear(seq uint64) bool {
	return s.clear(seq, false)
}

func (s *Store) clear(seq uint64, mfaPending bool) bool {
	s.mu.Lock()
	if seq <= s.applied {
		s.mu.Unlock()
		return false
	}
	s.applied = seq
	s.mfaPending = mfaPending
	s.session = nil
	s.identity = nil
	s.enrichment = nil
	s.resolveLocked()
	s.publishLocked()
	return true
}

// SetLoading sets the loading flag explicitly.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	if s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.loading = loading
	s.publishLocked()
}

// Reset returns the store to its initial unresolved state. Tags issued before Reset stay stale.
func (s *Store) Reset() {
	s.mu.Lock()
	s.applied = s.issued.Load()
	s.session = nil
	s.identity = nil
	s.enrichment = nil
	s.mfaPending = false
	s.loading = true
	s.resolved = false
	s.publishLocked()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every applied change and returns its cancel func.
// fn must not write to the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			delete(s.observers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) resolveLocked() {
	if !s.resolved {
		s.resolved = true
		s.loading = false
	}
}

// publishLocked releases mu and notifies observers. notifyMu is taken before mu is released so
// notifications keep the order in which updates were applied.
func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, id := range s.order {
		s.observers[id](snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	var identity *Identity
	if s.identity != nil {
		c := *s.identity
		identity = &c
	}
	return Snapshot{
		Session:  s.session.Clone(),
		Identity: identity,
		Loading:  s.loading,
		Resolved: s.resolved,
		Seq:      s.applied,

		SecondFactorPending: s.mfaPending,
	}
}

func copyEnrichment(e *Enrichment) *Enrichment {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
