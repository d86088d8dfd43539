// Package governor is the admission controller for outbound platform API
// calls. Each platform carries two rolling windows (15 minutes and 24
// hours) persisted in the catalog, so budget spent in one process run is
// still visible to the next. Decay is lazy: windows reset when a reserve
// call finds them expired, no background timer runs.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fitsync/internal/catalog"
)

const (
	windowLength = 15 * time.Minute
	dayLength    = 24 * time.Hour
)

// Budget is a platform's configured caps, already reduced by the safety
// margin (Strava: 200/day capped at 180, 100/window capped at 90).
type Budget struct {
	DailyLimit       int
	QuarterHourLimit int
	// MinInterval spaces consecutive calls out so bursts don't trip the
	// platform's own limiter before ours.
	MinInterval time.Duration
}

// Unlimited marks platforms without API budgets (cookie-session scrapes).
var Unlimited = Budget{}

// Decision is the outcome of a reservation attempt.
type Decision struct {
	Granted    bool
	RetryAfter time.Duration // set when denied
}

// DeniedError carries a denial through error-returning call chains. The
// executor treats it like a platform rate limit: record the cursor, stop
// the direction, exit 3.
type DeniedError struct {
	Platform   string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("api budget for %s exhausted, retry in %s", e.Platform, e.RetryAfter.Round(time.Second))
}

// Governor enforces per-platform budgets on top of the catalog's
// api_limits table.
type Governor struct {
	store   *catalog.Catalog
	budgets map[string]Budget

	mu      sync.Mutex
	limiter map[string]*rate.Limiter

	// now is swappable in tests.
	now func() time.Time
}

func New(store *catalog.Catalog, budgets map[string]Budget) *Governor {
	return &Governor{
		store:   store,
		budgets: budgets,
		limiter: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

// Reserve debits cost calls from the platform's budget. When a window is
// exhausted it returns a denial carrying the time until that window resets;
// the caller stops the direction rather than waiting.
func (g *Governor) Reserve(ctx context.Context, platform string, cost int) (Decision, error) {
	budget, limited := g.budgets[platform]
	if !limited || (budget.DailyLimit == 0 && budget.QuarterHourLimit == 0) {
		return Decision{Granted: true}, nil
	}

	if err := g.pace(ctx, platform, budget); err != nil {
		return Decision{}, err
	}

	now := g.now()
	var denial Decision
	_, err := g.store.UpdateAPICounters(ctx, platform, g.initCounters(budget, now), func(ct *catalog.Counters) error {
		// Configured caps win over whatever an older run persisted.
		ct.DailyLimit = budget.DailyLimit
		ct.QuarterHourLimit = budget.QuarterHourLimit

		// Lazy decay first: expired windows roll over.
		if !now.Before(ct.WindowResetAt) {
			ct.QuarterHourCalls = 0
			ct.WindowResetAt = now.Add(windowLength)
		}
		if !now.Before(ct.DayResetAt) {
			ct.DailyCalls = 0
			ct.DayResetAt = now.Add(dayLength)
		}

		if ct.QuarterHourCalls+cost > ct.QuarterHourLimit {
			denial = Decision{RetryAfter: ct.WindowResetAt.Sub(now)}
			return nil
		}
		if ct.DailyCalls+cost > ct.DailyLimit {
			denial = Decision{RetryAfter: ct.DayResetAt.Sub(now)}
			return nil
		}

		ct.QuarterHourCalls += cost
		ct.DailyCalls += cost
		denial = Decision{Granted: true}
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("reserving %d call(s) on %s: %w", cost, platform, err)
	}
	return denial, nil
}

// ObserveUsage reconciles our counters with usage the platform itself
// reported (Strava returns X-RateLimit-Usage on every response). The
// platform's numbers win when they are higher: someone else may be
// spending the same budget.
func (g *Governor) ObserveUsage(ctx context.Context, platform string, windowUsed, dayUsed int) error {
	budget, limited := g.budgets[platform]
	if !limited {
		return nil
	}
	now := g.now()
	_, err := g.store.UpdateAPICounters(ctx, platform, g.initCounters(budget, now), func(ct *catalog.Counters) error {
		if windowUsed > ct.QuarterHourCalls {
			ct.QuarterHourCalls = windowUsed
		}
		if dayUsed > ct.DailyCalls {
			ct.DailyCalls = dayUsed
		}
		return nil
	})
	return err
}

// ResetWindow forces a platform's quarter-hour window closed; used by the
// administrative clear path.
func (g *Governor) ResetWindow(ctx context.Context, platform string) error {
	budget, limited := g.budgets[platform]
	if !limited {
		return nil
	}
	now := g.now()
	_, err := g.store.UpdateAPICounters(ctx, platform, g.initCounters(budget, now), func(ct *catalog.Counters) error {
		ct.QuarterHourCalls = 0
		ct.WindowResetAt = now.Add(windowLength)
		return nil
	})
	return err
}

// Remaining reports how many calls are left in each window.
func (g *Governor) Remaining(ctx context.Context, platform string) (window, day int, err error) {
	budget, limited := g.budgets[platform]
	if !limited {
		return -1, -1, nil
	}
	ct, err := g.store.GetAPICounters(ctx, platform)
	if err != nil {
		return 0, 0, err
	}
	if ct == nil {
		return budget.QuarterHourLimit, budget.DailyLimit, nil
	}
	now := g.now()
	window = ct.QuarterHourLimit - ct.QuarterHourCalls
	if !now.Before(ct.WindowResetAt) {
		window = ct.QuarterHourLimit
	}
	day = ct.DailyLimit - ct.DailyCalls
	if !now.Before(ct.DayResetAt) {
		day = ct.DailyLimit
	}
	return window, day, nil
}

func (g *Governor) initCounters(budget Budget, now time.Time) catalog.Counters {
	return catalog.Counters{
		DailyLimit:       budget.DailyLimit,
		QuarterHourLimit: budget.QuarterHourLimit,
		DayResetAt:       now.Add(dayLength),
		WindowResetAt:    now.Add(windowLength),
	}
}

func (g *Governor) pace(ctx context.Context, platform string, budget Budget) error {
	if budget.MinInterval <= 0 {
		return nil
	}
	g.mu.Lock()
	lim, ok := g.limiter[platform]
	if !ok {
		lim = rate.NewLimiter(rate.Every(budget.MinInterval), 1)
		g.limiter[platform] = lim
	}
	g.mu.Unlock()
	return lim.Wait(ctx)
}
