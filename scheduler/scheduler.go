// Package scheduler drives the UTC-midnight protection rollover. Idle
// accounts would otherwise stay tripped until their next admission or
// settlement touches the state.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily rollover sweep.
type Scheduler struct {
	cron *cron.Cron
}

// New builds a scheduler invoking sweep at every UTC midnight.
func New(sweep func()) (*Scheduler, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc("0 0 * * *", sweep); err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start begins scheduling. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
