package permissions

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lattice-hq/lattice/pkg/observability"
)

const sweepTimeout = 30 * time.Second

// Sweeper deactivates expired temporary role assignments on a schedule.
// Aggregation already filters expired assignments at read time; the sweeper
// keeps the stored state matching what aggregation reports and fires cache
// invalidations for the affected users.
type Sweeper struct {
	store      *Store
	aggregator *Aggregator
	logger     *observability.Logger
	cron       *cron.Cron
	schedule   string
}

// NewSweeper creates a sweeper with a cron schedule expression
func NewSweeper(store *Store, aggregator *Aggregator, logger *observability.Logger, schedule string) *Sweeper {
	return &Sweeper{
		store:      store,
		aggregator: aggregator,
		logger:     logger,
		cron:       cron.New(),
		schedule:   schedule,
	}
}

// Start schedules the sweep and begins running it
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	expired, err := s.store.ExpireTemporaryAssignments(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Expired assignment sweep failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	seen := make(map[string]bool)
	for _, assignment := range expired {
		key := cacheKey(assignment.UserID, assignment.TenantID)
		if seen[key] {
			continue
		}
		seen[key] = true
		s.aggregator.Invalidate(ctx, assignment.UserID, assignment.TenantID)
	}
	s.logger.WithField("expired", len(expired)).Info("Deactivated expired role assignments")
}
