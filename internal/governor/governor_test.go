package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitsync/internal/catalog"
)

func newTestGovernor(t *testing.T, budget Budget) (*Governor, *time.Time) {
	t.Helper()
	store := catalog.OpenTest(t)
	g := New(store, map[string]Budget{"strava": budget})

	now := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestReserveGrantsUntilWindowCap(t *testing.T) {
	g, _ := newTestGovernor(t, Budget{DailyLimit: 180, QuarterHourLimit: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.Reserve(ctx, "strava", 1)
		require.NoError(t, err)
		assert.True(t, d.Granted, "call %d should be granted", i+1)
	}

	d, err := g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 15*time.Minute)
}

func TestReserveGrantsAfterWindowDecay(t *testing.T) {
	g, now := newTestGovernor(t, Budget{DailyLimit: 180, QuarterHourLimit: 1})
	ctx := context.Background()

	d, err := g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	require.True(t, d.Granted)

	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	require.False(t, d.Granted)

	// The window expires; the next reserve lazily resets it.
	*now = now.Add(16 * time.Minute)
	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestDailyCapOutlivesWindowResets(t *testing.T) {
	g, now := newTestGovernor(t, Budget{DailyLimit: 2, QuarterHourLimit: 90})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := g.Reserve(ctx, "strava", 1)
		require.NoError(t, err)
		require.True(t, d.Granted)
	}

	// A fresh quarter-hour window doesn't revive the daily budget.
	*now = now.Add(time.Hour)
	d, err := g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Greater(t, d.RetryAfter, 12*time.Hour)

	// A new day does.
	*now = now.Add(25 * time.Hour)
	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestUnknownPlatformIsUnlimited(t *testing.T) {
	g, _ := newTestGovernor(t, Budget{DailyLimit: 1, QuarterHourLimit: 1})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := g.Reserve(ctx, "garmin", 1)
		require.NoError(t, err)
		assert.True(t, d.Granted)
	}
}

func TestReserveCostSpansMultipleCalls(t *testing.T) {
	g, _ := newTestGovernor(t, Budget{DailyLimit: 180, QuarterHourLimit: 5})
	ctx := context.Background()

	d, err := g.Reserve(ctx, "strava", 4)
	require.NoError(t, err)
	require.True(t, d.Granted)

	// Only one call left; a cost-2 reservation is denied without spending.
	d, err = g.Reserve(ctx, "strava", 2)
	require.NoError(t, err)
	assert.False(t, d.Granted)

	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestObserveUsageAdoptsHigherExternalCounts(t *testing.T) {
	g, _ := newTestGovernor(t, Budget{DailyLimit: 180, QuarterHourLimit: 90})
	ctx := context.Background()

	d, err := g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	require.True(t, d.Granted)

	// The platform says another consumer already spent most of the window.
	require.NoError(t, g.ObserveUsage(ctx, "strava", 89, 100))

	window, day, err := g.Remaining(ctx, "strava")
	require.NoError(t, err)
	assert.Equal(t, 1, window)
	assert.Equal(t, 80, day)

	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	require.True(t, d.Granted)

	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.False(t, d.Granted)
}

func TestResetWindowReopensQuarterHour(t *testing.T) {
	g, _ := newTestGovernor(t, Budget{DailyLimit: 180, QuarterHourLimit: 1})
	ctx := context.Background()

	d, err := g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	require.True(t, d.Granted)

	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	require.False(t, d.Granted)

	require.NoError(t, g.ResetWindow(ctx, "strava"))

	d, err = g.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestBudgetPersistsAcrossGovernors(t *testing.T) {
	store := catalog.OpenTest(t)
	budgets := map[string]Budget{"strava": {DailyLimit: 180, QuarterHourLimit: 2}}
	now := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	ctx := context.Background()

	g1 := New(store, budgets)
	g1.now = func() time.Time { return now }
	for i := 0; i < 2; i++ {
		d, err := g1.Reserve(ctx, "strava", 1)
		require.NoError(t, err)
		require.True(t, d.Granted)
	}

	// A new process sees the spent budget.
	g2 := New(store, budgets)
	g2.now = func() time.Time { return now.Add(time.Minute) }
	d, err := g2.Reserve(ctx, "strava", 1)
	require.NoError(t, err)
	assert.False(t, d.Granted)
}
