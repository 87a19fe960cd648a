// Package scheduler drives the agent's background subsystems: one cooperative
// loop with a short wake period, interval gating per subsystem, and a cron
// runner for fixed-time maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Subsystem is one periodically-run unit of background work. Run is invoked
// synchronously; it must honor ctx cancellation.
type Subsystem struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler wakes on a fixed short period and runs every subsystem whose
// interval has elapsed, one at a time. A subsystem never overlaps itself
// because the loop is single-threaded.
type Scheduler struct {
	wake       time.Duration
	subsystems []*entry
	cron       *rcron.Cron

	// now is replaceable in tests.
	now func() time.Time
}

type entry struct {
	Subsystem
	lastRun time.Time
}

func New(wake time.Duration) *Scheduler {
	if wake <= 0 {
		wake = 15 * time.Second
	}
	return &Scheduler{
		wake: wake,
		cron: rcron.New(),
		now:  time.Now,
	}
}

// Register adds a subsystem. Not safe to call after Run has started.
func (s *Scheduler) Register(sub Subsystem) error {
	if sub.Name == "" || sub.Run == nil {
		return fmt.Errorf("scheduler: subsystem needs a name and a run function")
	}
	if sub.Interval <= 0 {
		return fmt.Errorf("scheduler: subsystem %s has no interval", sub.Name)
	}
	s.subsystems = append(s.subsystems, &entry{Subsystem: sub})
	return nil
}

// AddCronJob schedules a fixed-time maintenance job with a standard cron
// expression. Jobs run on the cron runner's own goroutine, independent of the
// wake loop.
func (s *Scheduler) AddCronJob(spec, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		log.Printf("[scheduler] cron job %s", name)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[scheduler] cron job %s panicked: %v", name, r)
			}
		}()
		fn()
	})
	if err != nil {
		return fmt.Errorf("register cron job %s: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is cancelled. Subsystem errors and panics are logged
// and never stop the loop; a failing subsystem still has its timestamp
// advanced so it is not retried on the very next wake.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	defer s.cron.Stop()

	log.Printf("[scheduler] running with %d subsystems, wake every %s", len(s.subsystems), s.wake)
	ticker := time.NewTicker(s.wake)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due subsystem sequentially. Exported behavior is exercised
// through Run; tests drive tick directly to avoid timing flakiness.
func (s *Scheduler) tick(ctx context.Context) {
	for _, e := range s.subsystems {
		if ctx.Err() != nil {
			return
		}
		now := s.now()
		if now.Sub(e.lastRun) < e.Interval {
			continue
		}
		s.safeRun(ctx, e)
		// Advance on success and failure alike; a hot error loop would
		// otherwise hammer the provider every wake.
		e.lastRun = s.now()
	}
}

func (s *Scheduler) safeRun(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] %s panicked: %v", e.Name, r)
		}
	}()
	if err := e.Run(ctx); err != nil {
		log.Printf("[scheduler] %s: %v", e.Name, err)
	}
}
