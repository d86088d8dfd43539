package convert

import (
	"bytes"
	"fmt"
	"math"

	"github.com/tormoder/fit"
)

// decodeFIT reads the activity records out of a FIT file.
func decodeFIT(data []byte) (*track, error) {
	f, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding fit file: %w", err)
	}
	activity, err := f.Activity()
	if err != nil {
		return nil, fmt.Errorf("fit file is not an activity: %w", err)
	}

	tr := &track{}

	if len(activity.Sessions) > 0 {
		sess := activity.Sessions[0]
		tr.Sport = sess.Sport.String()
		tr.StartTime = sess.StartTime
		tr.TotalDistance = sess.GetTotalDistanceScaled()
		tr.TotalDuration = sess.GetTotalElapsedTimeScaled()
	}

	for _, rec := range activity.Records {
		p := point{Time: rec.Timestamp}

		lat := rec.PositionLat.Degrees()
		lon := rec.PositionLong.Degrees()
		if !math.IsNaN(lat) && !math.IsNaN(lon) {
			p.Lat, p.Lon = lat, lon
			p.HasPos = true
		}
		if alt := rec.GetAltitudeScaled(); !math.IsNaN(alt) {
			p.Elevation = alt
			p.HasEle = true
		}
		if rec.HeartRate != 0xFF {
			p.HeartRate = int(rec.HeartRate)
		}
		if dist := rec.GetDistanceScaled(); !math.IsNaN(dist) {
			p.Distance = dist
		}

		tr.Points = append(tr.Points, p)
	}

	if tr.StartTime.IsZero() && len(tr.Points) > 0 {
		tr.StartTime = tr.Points[0].Time
	}
	if tr.TotalDistance == 0 && len(tr.Points) > 0 {
		tr.TotalDistance = tr.Points[len(tr.Points)-1].Distance
	}
	if tr.TotalDuration == 0 && len(tr.Points) > 1 {
		tr.TotalDuration = tr.Points[len(tr.Points)-1].Time.Sub(tr.Points[0].Time).Seconds()
	}
	return tr, nil
}
