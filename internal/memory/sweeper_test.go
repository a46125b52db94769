package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRepairer struct {
	mu    sync.Mutex
	calls []RepairOptions
	err   error
}

func (c *countingRepairer) Repair(_ context.Context, opts RepairOptions) (RepairReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, opts)
	return RepairReport{Unindexed: 1, Reindexed: 1}, c.err
}

func TestNewSweeper_RejectsInvalidSchedule(t *testing.T) {
	_, err := NewSweeper(&countingRepairer{}, "every five minutes", RepairOptions{}, zap.NewNop())
	assert.Error(t, err)
}

func TestSweeper_Next(t *testing.T) {
	s, err := NewSweeper(&countingRepairer{}, "*/5 * * * *", RepairOptions{}, zap.NewNop())
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC)
	next, err := s.Next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), next)
}

func TestSweeper_RunOncePassesOptions(t *testing.T) {
	r := &countingRepairer{}
	opts := RepairOptions{GracePeriod: 30 * time.Second, Limit: 10}
	s, err := NewSweeper(r, "@hourly", opts, zap.NewNop())
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reindexed)
	assert.Equal(t, []RepairOptions{opts}, r.calls)

	r.err = errInjected
	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, errInjected)
}

func TestSweeper_StartStop(t *testing.T) {
	r := &countingRepairer{}
	s, err := NewSweeper(r, "@yearly", RepairOptions{}, zap.NewNop())
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	s.Stop()
	assert.Empty(t, r.calls)
}

func TestSweeper_RepairsStuckRows(t *testing.T) {
	h := newHarness(t)
	stuck := stuckCreate(t, h, "sweep me")
	time.Sleep(2 * time.Millisecond)

	s, err := NewSweeper(h.svc, "* * * * *", RepairOptions{GracePeriod: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reindexed)

	_, err = h.svc.GetMemory(context.Background(), stuck.ID, false)
	assert.NoError(t, err)
}
