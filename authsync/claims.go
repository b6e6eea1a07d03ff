package authsync

import "sync"

// TransitionClaims records auth actions that own an in-flight unauthenticated to signed-in
// transition. While any claim is held the listener leaves that transition to the action.
type TransitionClaims struct {
	mu   sync.Mutex
	held int
}

// Claim marks a transition in flight. The returned release func is idempotent.
func (c *TransitionClaims) Claim() (release func()) {
	c.mu.Lock()
	c.held++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.held--
			c.mu.Unlock()
		})
	}
}

// Held reports whether any claim is outstanding.
func (c *TransitionClaims) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held > 0
}
