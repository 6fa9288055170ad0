package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendcal/internal/reconcile"
)

type fakeRunner struct {
	mu      sync.Mutex
	syncAll int
	years   []string
	modes   []string
	lastCtx context.Context
}

func (f *fakeRunner) SyncAll(ctx context.Context) []*reconcile.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncAll++
	f.lastCtx = ctx
	return []*reconcile.Report{{Year: "3A"}, {Year: "4B", Err: context.Canceled}}
}

func (f *fakeRunner) SyncYear(_ context.Context, year, mode string) (*reconcile.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.years = append(f.years, year)
	f.modes = append(f.modes, mode)
	return &reconcile.Report{Year: year, Mode: mode}, nil
}

func TestNew_RejectsInvalidSpec(t *testing.T) {
	_, err := New(&fakeRunner{}, "every morning", time.UTC)
	assert.Error(t, err)
}

func TestTick_RunsAllYears(t *testing.T) {
	r := &fakeRunner{}
	s, err := New(r, "0 6 * * *", time.UTC)
	require.NoError(t, err)

	s.tick()
	assert.Equal(t, 1, r.syncAll)
	require.NotNil(t, r.lastCtx)
	assert.NoError(t, r.lastCtx.Err())
}

func TestRunYear_DefaultsToManual(t *testing.T) {
	r := &fakeRunner{}
	s, err := New(r, "0 6 * * *", time.UTC)
	require.NoError(t, err)

	rep, err := s.RunYear(context.Background(), "3A", "")
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeManual, rep.Mode)

	_, err = s.RunYear(context.Background(), "4B", reconcile.ModeScheduled)
	require.NoError(t, err)
	assert.Equal(t, []string{"3A", "4B"}, r.years)
	assert.Equal(t, []string{reconcile.ModeManual, reconcile.ModeScheduled}, r.modes)
}

func TestStop_SignalsRunnerToSkipRemainingYears(t *testing.T) {
	r := &fakeRunner{}
	s, err := New(r, "0 6 * * *", time.UTC)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	s.tick()
	require.NotNil(t, r.lastCtx)
	assert.ErrorIs(t, r.lastCtx.Err(), context.Canceled)
}
