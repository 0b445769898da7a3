package performance

import (
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"
)

var epoch = time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)

// row is a compact sample description: seconds from epoch, speed, engine
// state, GSI flag and speed limit.
type row struct {
	secs     float64
	kmh      units.Kmh
	engineOn bool
	gsi      *bool
	limit    *float64
}

func at(secs float64) time.Time {
	return epoch.Add(time.Duration(secs * float64(time.Second)))
}

func boolp(b bool) *bool        { return &b }
func floatp(f float64) *float64 { return &f }
func intp(i int) *int           { return &i }

func samples(rows ...row) []models.TelemetrySample {
	out := make([]models.TelemetrySample, len(rows))
	for i, r := range rows {
		out[i] = models.TelemetrySample{
			Timestamp:     at(r.secs),
			Speed:         r.kmh,
			EngineOn:      r.engineOn,
			GSIIndicating: r.gsi,
			SpeedLimit:    r.limit,
		}
	}
	return out
}

var (
	yes = boolp(true)
	no  = boolp(false)
	l48 = floatp(48)
	l64 = floatp(64)
	l80 = floatp(80)
	mwy = floatp(MotorwaySpeedLimit)
)

// baseTrip exercises every statistic: a launch after idling, urban driving
// with speed limits, a second idle, a motorway stretch and an engine-off
// stop shorter than the idle threshold.
func baseTrip() []models.TelemetrySample {
	return samples(
		row{0, 0, true, nil, nil},
		row{3, 0, true, nil, nil},
		row{8, 0, true, nil, nil},
		row{9, 12, true, no, l48},
		row{10, 20, true, yes, l48},
		row{12, 35, true, no, l48},
		row{14, 50, true, no, l48},
		row{16, 52, true, yes, l48},
		row{18, 45, true, no, l48},
		row{20, 30, true, no, nil},
		row{22, 10, true, nil, nil},
		row{24, 0, true, nil, nil},
		row{30, 0, true, nil, nil},
		row{31, 0, true, nil, nil},
		row{33, 15, true, no, mwy},
		row{35, 60, true, no, mwy},
		row{37, 100, true, yes, mwy},
		row{39, 118, true, no, mwy},
		row{41, 110, true, no, mwy},
		row{43, 40, true, no, l64},
		row{45, 0, true, nil, l64},
		row{49, 0, false, nil, nil},
	)
}

func secondTrip() []models.TelemetrySample {
	return samples(
		row{0, 0, true, nil, nil},
		row{2, 20, true, no, l80},
		row{6, 60, true, yes, l80},
		row{10, 90, true, no, l80},
		row{12, 88, true, no, l80},
		row{20, 0, true, nil, nil},
		row{27, 0, true, nil, nil},
		row{28, 0, false, nil, nil},
	)
}
