// Package matcher answers "could these two records be the same real-world
// activity?" at query time. It is distinct from the fingerprint: fingerprints
// collapse near-identical records up front, the matcher resolves records
// whose fingerprints disagree (a platform reporting distance 5% high, say).
// It never writes to the catalog; the executor decides what to do with a
// verdict.
package matcher

import (
	"math"
	"time"

	"fitsync/internal/sport"
)

// Verdict classifies a score against the configured thresholds.
type Verdict int

const (
	NoMatch Verdict = iota
	Ambiguous
	Match
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case Ambiguous:
		return "ambiguous"
	default:
		return "no_match"
	}
}

// Activity is the slice of an activity record the matcher scores on.
// SportType must be canonical.
type Activity struct {
	SportType string
	StartTime time.Time
	Distance  float64 // meters
	Duration  int     // seconds
}

// Thresholds are tunables stored in sync_config.
type Thresholds struct {
	MatchScore     float64 // >= means Match
	AmbiguousScore float64 // >= (and < MatchScore) means Ambiguous
	TimeTolerance  time.Duration
}

// DefaultThresholds mirrors the seeded sync_config values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MatchScore:     0.80,
		AmbiguousScore: 0.60,
		TimeTolerance:  5 * time.Minute,
	}
}

// Result carries the weighted score and its classification.
type Result struct {
	Score   float64
	Verdict Verdict
}

// Matcher scores pairs of activities using a fixed weighting:
// start time 0.40, sport type 0.20, distance 0.20, duration 0.20.
type Matcher struct {
	table      *sport.Table
	thresholds Thresholds
}

func New(table *sport.Table, thresholds Thresholds) *Matcher {
	return &Matcher{table: table, thresholds: thresholds}
}

const (
	weightTime     = 0.40
	weightSport    = 0.20
	weightDistance = 0.20
	weightDuration = 0.20

	distanceTolerancePct = 0.05
	distanceToleranceAbs = 100.0 // meters
	durationTolerancePct = 0.10
	durationToleranceAbs = 30 // seconds
)

// Score computes the weighted similarity of two activities.
func (m *Matcher) Score(a, b Activity) Result {
	score := weightTime*m.timeTerm(a, b) +
		weightSport*m.sportTerm(a, b) +
		weightDistance*distanceTerm(a, b) +
		weightDuration*durationTerm(a, b)

	return Result{Score: score, Verdict: m.classify(score)}
}

func (m *Matcher) classify(score float64) Verdict {
	switch {
	case score >= m.thresholds.MatchScore:
		return Match
	case score >= m.thresholds.AmbiguousScore:
		return Ambiguous
	default:
		return NoMatch
	}
}

// timeTerm decays linearly from 1.0 at zero delta to 0.0 at the tolerance.
// The window is half-open: a delta of exactly the tolerance scores zero.
func (m *Matcher) timeTerm(a, b Activity) float64 {
	delta := a.StartTime.Sub(b.StartTime)
	if delta < 0 {
		delta = -delta
	}
	if delta >= m.thresholds.TimeTolerance {
		return 0
	}
	return 1 - float64(delta)/float64(m.thresholds.TimeTolerance)
}

func (m *Matcher) sportTerm(a, b Activity) float64 {
	if a.SportType == b.SportType {
		return 1
	}
	if m.table.Equivalent(a.SportType, b.SportType) {
		return 0.8
	}
	return 0
}

func distanceTerm(a, b Activity) float64 {
	return proximityTerm(a.Distance, b.Distance,
		math.Max(distanceTolerancePct*avg(a.Distance, b.Distance), distanceToleranceAbs))
}

func durationTerm(a, b Activity) float64 {
	return proximityTerm(float64(a.Duration), float64(b.Duration),
		math.Max(durationTolerancePct*avg(float64(a.Duration), float64(b.Duration)), durationToleranceAbs))
}

// proximityTerm scores two magnitudes against an absolute tolerance.
// Zero values get the original's special-casing: both zero is a perfect
// term, one zero is half credit (trainer activities often report no
// distance on one platform but not the other).
func proximityTerm(x, y, tolerance float64) float64 {
	if x == 0 && y == 0 {
		return 1
	}
	if x == 0 || y == 0 {
		return 0.5
	}
	diff := math.Abs(x - y)
	if diff >= tolerance {
		return 0
	}
	return 1 - diff/tolerance
}

func avg(x, y float64) float64 { return (x + y) / 2 }
