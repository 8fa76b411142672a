// Package sweeper periodically drops challenges that expired without being used.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/logger"
)

type Store interface {
	DeleteExpiredChallenges(ctx context.Context, before int64) (int64, error)
}

type Sweeper struct {
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	log      *logrus.Entry
	cron     *cron.Cron
}

// New returns a sweeper that removes unconsumed challenges whose expiry is older than
// now minus grace.
func New(store Store, interval, grace time.Duration, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		log:      logger.OrDiscard(log),
	}
}

// WithClock replaces the sweeper's clock.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.now = clock
	return s
}

// RunOnce performs a single sweep and returns how many challenges were removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.grace).Unix()
	n, err := s.store.DeleteExpiredChallenges(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("removed", n).Info("expired challenges swept")
	}
	return n, nil
}

// Start schedules RunOnce every interval until Stop.
func (s *Sweeper) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Error("scheduled challenge sweep failed")
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}
