// Package scheduler drives periodic sync: a cron-style trigger invokes
// syncengine.Engine.Sync on an interval read from configuration,
// surfacing failures through the returned ExternalSyncResult's Errors
// rather than panicking or killing the process. It is the one place in
// this core that wraps github.com/robfig/cron/v3, structured like the
// incremental.Watch building block: a constructor plus a stop function,
// no owned process loop beyond the goroutine the library itself runs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// EverySpec renders a poll interval as a robfig/cron "@every" spec,
// the form pollIntervalMs maps onto since the configuration surface is
// a duration, not a wall-clock schedule. Intervals under a second are
// floored to one second: cron's own minimum granularity.
func EverySpec(interval time.Duration) string {
	if interval < time.Second {
		interval = time.Second
	}
	return fmt.Sprintf("@every %s", interval)
}

// RunFunc performs one sync pass and returns its outcome. A caller
// wires this as a closure over syncengine.Engine.Sync and its desired
// syncengine.Options, so this package never needs to import syncengine
// just to name that type.
type RunFunc func(ctx context.Context) (*core.ExternalSyncResult, error)

// OnResult is called after every scheduled run, successful or not, so a
// host can log, emit metrics, or surface conflicts needing MANUAL
// resolution. result and err are what run returned: Engine.Sync returns
// a nil result together with any error, while a run that finishes with
// per-item failures reports them in a non-nil result whose Success is
// false.
type OnResult func(result *core.ExternalSyncResult, err error)

// Scheduler runs a periodic sync of the configured options at the
// configured interval until Stop is called.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	running bool
}

// New builds a Scheduler. A nil logger is replaced with zap's no-op
// logger. The cron instance uses second-less 5-field expressions
// (robfig/cron/v3's default parser) since pollIntervalMs is translated
// to an "@every" spec rather than a wall-clock cron string.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cron: cron.New(), logger: logger}
}

// Start schedules a recurring call to run on every tick, reporting the
// outcome through onResult (which may be nil). Start is idempotent:
// calling it again replaces the previously scheduled job.
func (s *Scheduler) Start(ctx context.Context, run RunFunc, intervalSpec string, onResult OnResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.cron.Remove(s.entryID)
	}

	id, err := s.cron.AddFunc(intervalSpec, func() {
		result, err := run(ctx)
		if err != nil {
			s.logger.Error("scheduled sync failed", zap.Error(err))
		} else if !result.Success {
			s.logger.Warn("scheduled sync completed with errors", zap.Int("errorCount", len(result.Errors)))
		}
		if onResult != nil {
			onResult(result, err)
		}
	})
	if err != nil {
		return core.WrapError(core.ErrInvalidInput, err, "scheduler: invalid interval spec %q", intervalSpec)
	}

	s.entryID = id
	s.running = true
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight run to finish,
// mirroring cron.Cron.Stop's own semantics.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}
