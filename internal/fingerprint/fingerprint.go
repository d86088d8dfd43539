// Package fingerprint derives the content-addressed identity of a logical
// activity. Two platforms recording the same workout with slightly different
// clocks and distance readings produce the same fingerprint, which is what
// lets the catalog collapse them into one entity.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

const (
	// distanceBucket groups reported distances into 100 m buckets so that
	// per-platform measurement noise cancels out.
	distanceBucket = 100.0
	// durationBucket groups durations into 10 s buckets.
	durationBucket = 10
)

// Compute returns the 16-hex-character fingerprint for an activity.
// sportType must already be canonical (see the sport package); start is
// quantized to the UTC minute.
func Compute(sportType string, start time.Time, distanceMeters float64, durationSeconds int) string {
	minute := start.UTC().Truncate(time.Minute).Format("2006-01-02T15:04")
	distBucket := int64(math.Floor(distanceMeters/distanceBucket)) * int64(distanceBucket)
	durBucket := durationSeconds / durationBucket * durationBucket

	input := fmt.Sprintf("%s|%s|%d|%d", sportType, minute, distBucket, durBucket)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:8])
}
