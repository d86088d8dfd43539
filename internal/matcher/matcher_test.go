package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fitsync/internal/sport"
)

func newMatcher() *Matcher {
	return New(sport.Default(), DefaultThresholds())
}

func base() Activity {
	return Activity{
		SportType: "ride",
		StartTime: time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC),
		Distance:  20000,
		Duration:  3600,
	}
}

func TestIdenticalActivitiesMatch(t *testing.T) {
	m := newMatcher()
	r := m.Score(base(), base())

	assert.InDelta(t, 1.0, r.Score, 1e-9)
	assert.Equal(t, Match, r.Verdict)
}

func TestSmallDriftStillMatches(t *testing.T) {
	m := newMatcher()
	a := base()
	b := base()
	b.StartTime = b.StartTime.Add(30 * time.Second)
	b.Distance = 20300  // 1.5% high
	b.Duration = 3650   // well within 10%

	r := m.Score(a, b)
	assert.Equal(t, Match, r.Verdict, "score was %.3f", r.Score)
}

func TestTimeTermIsHalfOpen(t *testing.T) {
	m := newMatcher()
	a := base()
	b := base()
	b.StartTime = b.StartTime.Add(5 * time.Minute)

	r := m.Score(a, b)
	// Time term contributes exactly zero at the boundary; the remaining
	// terms sum to 0.6.
	assert.InDelta(t, 0.6, r.Score, 1e-9)
	assert.Equal(t, Ambiguous, r.Verdict)
}

func TestDifferentSportLosesSportCredit(t *testing.T) {
	m := newMatcher()
	a := base()
	b := base()
	b.SportType = "run"

	r := m.Score(a, b)
	// Sport term zero: 0.4 + 0.2 + 0.2 = 0.8 with everything else equal.
	// Equal everything else is implausible for different sports, but the
	// score arithmetic should still hold.
	assert.InDelta(t, 0.8, r.Score, 1e-9)
}

func TestEquivalentSportPartialCredit(t *testing.T) {
	m := newMatcher()
	a := base()
	b := base()
	b.SportType = "virtual_ride"

	r := m.Score(a, b)
	assert.InDelta(t, 0.96, r.Score, 1e-9) // 0.4 + 0.2*0.8 + 0.2 + 0.2
	assert.Equal(t, Match, r.Verdict)
}

func TestDistanceBeyondToleranceNoCredit(t *testing.T) {
	m := newMatcher()
	a := base()
	b := base()
	b.Distance = 22500 // >5% of ~21km average

	r := m.Score(a, b)
	assert.InDelta(t, 0.8, r.Score, 1e-9)
}

func TestAbsoluteDistanceFloorForShortActivities(t *testing.T) {
	m := newMatcher()
	a := base()
	a.Distance = 900
	b := base()
	b.Distance = 980 // 8.5% off but inside the 100 m floor

	r := m.Score(a, b)
	assert.Equal(t, Match, r.Verdict, "score was %.3f", r.Score)
}

func TestZeroDistanceHalfCredit(t *testing.T) {
	m := newMatcher()
	a := base()
	a.Distance = 0

	r := m.Score(a, base())
	assert.InDelta(t, 0.9, r.Score, 1e-9) // distance term at 0.5
	assert.Equal(t, Match, r.Verdict)
}

func TestUnrelatedActivitiesNoMatch(t *testing.T) {
	m := newMatcher()
	a := base()
	b := Activity{
		SportType: "run",
		StartTime: a.StartTime.Add(2 * time.Hour),
		Distance:  5000,
		Duration:  1500,
	}

	r := m.Score(a, b)
	assert.Equal(t, NoMatch, r.Verdict, "score was %.3f", r.Score)
}

func TestThresholdsAreTunable(t *testing.T) {
	th := DefaultThresholds()
	th.MatchScore = 0.95
	m := New(sport.Default(), th)

	a := base()
	b := base()
	b.SportType = "virtual_ride" // scores 0.96 with defaults

	r := m.Score(a, b)
	assert.Equal(t, Match, r.Verdict)

	th.MatchScore = 0.97
	m = New(sport.Default(), th)
	r = m.Score(a, b)
	assert.Equal(t, Ambiguous, r.Verdict)
}
