package clientsession

import (
	"errors"
	"time"

	"github.com/jrsteele09/go-fitness-auth/authclient"
)

var ErrNotFound = errors.New("client session not found")

// Session is one browser's auth client and when it was last used.
type Session struct {
	Client    *authclient.Client
	CreatedAt time.Time
	LastSeen  time.Time
}

// Repo holds the live auth client of every browser session.
type Repo interface {
	Upsert(sessionID string, client *authclient.Client) error
	// GetOrCreate returns the session for sessionID, building its client with create when there
	// is none. Concurrent callers for the same id share one create call. created reports whether
	// the client was built for this lookup.
	GetOrCreate(sessionID string, create func() (*authclient.Client, error)) (s Session, created bool, err error)
	// Get returns the session and marks it as seen.
	Get(sessionID string) (Session, error)
	// Delete closes and removes the session.
	Delete(sessionID string) error
	// ExpireIdle closes sessions unused for longer than the idle timeout and returns how many.
	ExpireIdle() int
	Close()
}
