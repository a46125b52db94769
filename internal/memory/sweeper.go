package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// Repairer runs one consistency sweep. *Service implements it.
type Repairer interface {
	Repair(ctx context.Context, opts RepairOptions) (RepairReport, error)
}

// Sweeper runs Repair on a cron schedule.
type Sweeper struct {
	repairer Repairer
	expr     string
	opts     RepairOptions
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper validates the cron expression and returns an idle Sweeper.
func NewSweeper(r Repairer, expr string, opts RepairOptions, logger *zap.Logger) (*Sweeper, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep schedule %q", expr)
	}
	return &Sweeper{repairer: r, expr: expr, opts: opts, logger: logger, now: time.Now}, nil
}

// Next returns the first scheduled run strictly after t.
func (s *Sweeper) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Start launches the schedule loop. It is a no-op if already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("repair sweeper started", zap.String("schedule", s.expr))
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("repair sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.logger.Error("compute next sweep", zap.Error(err))
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.RunOnce(ctx)
	}
}

// RunOnce performs a single sweep and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (RepairReport, error) {
	report, err := s.repairer.Repair(ctx, s.opts)
	if err != nil {
		s.logger.Error("repair sweep failed", zap.Error(err))
		return report, err
	}
	if report.Unindexed+report.Dangling+report.Orphans > 0 {
		s.logger.Warn("repair sweep found partially written memories",
			zap.Int("unindexed", report.Unindexed),
			zap.Int("dangling", report.Dangling),
			zap.Int("reindexed", report.Reindexed),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}
