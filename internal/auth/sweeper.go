package auth

import (
	"context"
	"time"
)

const defaultSweepInterval = 10 * time.Minute

// Sweeper periodically removes expired codes and tokens.
type Sweeper struct {
	interval time.Duration
	purgers  []Purger
	now      func() time.Time
}

func NewSweeper(interval time.Duration, purgers ...Purger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{interval: interval, purgers: purgers, now: time.Now}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Failed to purge expired grants")
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs every purger once and returns the number of removed rows.
// It keeps going after a failing purger and reports the first error.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now()
	var (
		total    int64
		firstErr error
	)
	for _, p := range s.purgers {
		n, err := p.PurgeExpired(ctx, now)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if total > 0 {
		log.WithField("purged", total).Debug("Purged expired grants")
	}
	return total, firstErr
}
