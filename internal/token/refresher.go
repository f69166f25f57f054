package token

import (
	"context"
	"time"

	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/pkg/constants"
)

// Refreshable is anything the Refresher can drive
type Refreshable interface {
	RefreshIfNeeded(ctx context.Context)
}

// Refresher invokes RefreshIfNeeded on a fixed interval. It is the only
// writer of the cache after Initialize.
type Refresher struct {
	target   Refreshable
	interval time.Duration
}

// NewRefresher creates a refresher. A non-positive interval falls back to
// constants.DefaultRefreshCheckInterval.
func NewRefresher(target Refreshable, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = constants.DefaultRefreshCheckInterval
	}
	return &Refresher{target: target, interval: interval}
}

// Start runs the refresh loop until ctx is cancelled. Checks run on this
// goroutine one at a time; ticks that fall due while a check is still
// running are dropped by the ticker.
func (r *Refresher) Start(ctx context.Context) error {
	logger.WithField("interval", r.interval.String()).Info("token-refresher-started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("token-refresher-stopped")
			return nil
		case <-ticker.C:
			r.target.RefreshIfNeeded(ctx)
		}
	}
}
