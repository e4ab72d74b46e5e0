// Package sweeper runs the heartbeat timeout sweep on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions and descriptors such as
// "@every 10s".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper is implemented by session.Monitor.
type Sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

// Scheduler triggers sweeps on a schedule.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	runs    atomic.Int64
	ctx     context.Context
}

// Validate reports whether expr is a usable schedule.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New creates a Scheduler that sweeps on expr.
func New(expr string, s Sweeper) (*Scheduler, error) {
	if s == nil {
		return nil, fmt.Errorf("sweeper: sweeper is required")
	}
	if err := Validate(expr); err != nil {
		return nil, err
	}
	sc := &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper: s,
		ctx:     context.Background(),
	}
	if _, err := sc.cron.AddFunc(expr, sc.tick); err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", expr, err)
	}
	return sc, nil
}

// Runs returns how many sweeps have been attempted.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// an in-flight sweep to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	s.runs.Add(1)
	if _, err := s.sweeper.Sweep(s.ctx); err != nil && s.ctx.Err() == nil {
		log.Printf("sweeper: sweep failed: %v", err)
	}
}
