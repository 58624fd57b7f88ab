/*
scheduler.go - Automated period-closing scheduler

PURPOSE:
  Periodically runs the closing sweep so stat rows pick up their
  temporarily/officially-closed stamps without waiting for a mutation or
  an operator. The locking decision itself never depends on the sweep
  having run - the policy computes closedness from the clock - so a
  missed tick only delays the visible stamps, never correctness.

DESIGN:
  - Background goroutine with a configurable check interval
  - Stamps are write-once in the store; re-running is harmless
  - Runs once at startup so a restarted server catches up immediately

USAGE:
  scheduler := NewPeriodScheduler(orch, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/stats.go: CloseElapsedPeriods
  - ledger/period.go: The sliding window being swept
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinicware/backoffice/ledger"
)

// PeriodScheduler stamps closed periods on an interval.
type PeriodScheduler struct {
	Orch          *ledger.Orchestrator
	CheckInterval time.Duration
	Enabled       bool

	log    *logrus.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodScheduler creates a scheduler with an hourly check interval.
func NewPeriodScheduler(orch *ledger.Orchestrator, log *logrus.Logger) *PeriodScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &PeriodScheduler{
		Orch:          orch,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ps *PeriodScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.log.Info("period scheduler disabled, not starting")
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)
	go ps.run()

	ps.log.WithField("interval", ps.CheckInterval).Info("period scheduler started")
}

// Stop stops the scheduler and waits for the in-flight sweep, if any.
func (ps *PeriodScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.log.Info("period scheduler stopped")
	}
}

func (ps *PeriodScheduler) run() {
	defer ps.wg.Done()

	// Catch up immediately on start.
	ps.sweep()

	for {
		select {
		case <-ps.ticker.C:
			ps.sweep()
		case <-ps.stop:
			return
		}
	}
}

func (ps *PeriodScheduler) sweep() {
	now := time.Now()
	err := ps.Orch.Aggregator().CloseElapsedPeriods(context.Background(), ps.Orch.Store(), ps.Orch.Policy(), now)
	if err != nil {
		ps.log.WithError(err).Error("period closing sweep failed")
		return
	}
	ps.log.WithField("closed_through", ps.Orch.Policy().MinimumEditableDate(now).String()).
		Debug("period closing sweep completed")
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ps *PeriodScheduler) RunNow() {
	ps.sweep()
}
