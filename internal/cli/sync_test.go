package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"fitsync/internal/governor"
	"fitsync/internal/platform"
	syncengine "fitsync/internal/sync"
)

func TestExitFromSummaries(t *testing.T) {
	dir := platform.Direction{Source: "strava", Target: "garmin"}

	tests := []struct {
		name      string
		summaries []syncengine.Summary
		wantCode  int
	}{
		{
			name:      "all clean",
			summaries: []syncengine.Summary{{Direction: dir, Synced: 3}},
			wantCode:  ExitOK,
		},
		{
			name: "governor denial",
			summaries: []syncengine.Summary{{
				Direction: dir,
				Halt:      &governor.DeniedError{Platform: "strava", RetryAfter: time.Minute},
			}},
			wantCode: ExitRateLimited,
		},
		{
			name: "platform rate limit",
			summaries: []syncengine.Summary{{
				Direction: dir,
				Halt:      platform.ErrRateLimited,
			}},
			wantCode: ExitRateLimited,
		},
		{
			name: "unauthorized",
			summaries: []syncengine.Summary{{
				Direction: dir,
				Halt:      platform.ErrUnauthorized,
			}},
			wantCode: ExitFailure,
		},
		{
			name: "operational failure wins over rate limit",
			summaries: []syncengine.Summary{
				{Direction: dir, Halt: &governor.DeniedError{Platform: "strava"}},
				{Direction: dir, Halt: platform.ErrUnauthorized},
			},
			wantCode: ExitFailure,
		},
		{
			name: "cancellation is clean",
			summaries: []syncengine.Summary{{
				Direction: dir,
				Synced:    1,
				Halt:      context.Canceled,
			}},
			wantCode: ExitOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitFromSummaries(tt.summaries)
			if got := GetExitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d (err=%v), want %d", got, err, tt.wantCode)
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	if got := GetExitCode(nil); got != ExitOK {
		t.Errorf("nil error code = %d", got)
	}
	if got := GetExitCode(errors.New("boom")); got != ExitFailure {
		t.Errorf("plain error code = %d", got)
	}
	wrapped := WrapExitError(ExitUsage, "bad flag", errors.New("boom"))
	if got := GetExitCode(wrapped); got != ExitUsage {
		t.Errorf("wrapped code = %d", got)
	}
}
