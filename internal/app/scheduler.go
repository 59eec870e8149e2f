/**
 * @description
 * Cron wrapper that drives the reconciliation loop on a fixed schedule. The
 * cron runner is configured with a Recover chain so a panicking run is logged
 * and the schedule survives.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Scheduling.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the reconciler on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	runTimeout time.Duration
}

// NewScheduler wires the reconciler into a cron runner. The schedule uses the
// standard 5-field cron syntax, e.g. "0 * * * *" for hourly.
func NewScheduler(reconciler *Reconciler, schedule string, runTimeout time.Duration) (*Scheduler, error) {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithChain(
				cron.Recover(cron.PrintfLogger(log.Default())),
			),
		),
		reconciler: reconciler,
		runTimeout: runTimeout,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	if _, err := s.reconciler.Run(ctx); err != nil {
		log.Printf("level=error component=scheduler msg=\"reconcile run failed\" err=%v", err)
	}
}

// Start begins the schedule in the cron runner's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("level=info component=scheduler msg=\"reconcile schedule started\"")
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("level=info component=scheduler msg=\"reconcile schedule stopped\"")
}
