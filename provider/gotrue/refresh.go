package gotrue

import (
	"context"
	"time"
)

// StartAutoRefresh refreshes the stored session in the background whenever it comes within the
// refresh margin of expiry. It stops when ctx is done or the returned func is called.
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.GetSession(ctx); err != nil && ctx.Err() == nil {
					c.logger.Warn().Err(err).Msg("background session refresh failed")
				}
			}
		}
	}()
	return cancel
}
