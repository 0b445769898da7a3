// Package performance scores eco-driving behaviour.
//
// A TripPerformance is a single pass over one trip's samples. A
// FeedbackWindow folds the trips of a rolling window together and turns the
// resulting statistics into 0-100 factor scores and one composite score.
package performance

import (
	"math"
	"time"

	"eco-drive-assistant/internal/dynamics"
	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/stats"
	"eco-drive-assistant/internal/units"
)

const (
	// AccMinSpeedDiff is the smallest change in km/h between samples that
	// counts as an acceleration or deceleration.
	AccMinSpeedDiff = 1.0
	// IdleMinSecs is the shortest stop that counts as idling.
	IdleMinSecs = 5.0
	// MotorwaySpeedLimit is the 70 mph limit in km/h as reported by the map.
	MotorwaySpeedLimit = 113.0
)

// TripPerformance holds the driving statistics of one trip.
type TripPerformance struct {
	TripID      string    `json:"trip_id"`
	SampleCount int       `json:"sample_count"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TravelTime  float64   `json:"travel_time"` // seconds
	IdleTime    float64   `json:"idle_time"`   // seconds, idles of IdleMinSecs or more
	Distance    float64   `json:"distance"`    // km

	DrivAccSmoothness  stats.Mean `json:"driv_acc_smoothness"`
	StartAccSmoothness stats.Mean `json:"start_acc_smoothness"`
	DecSmoothness      stats.Mean `json:"dec_smoothness"`
	GSIAdh             stats.Mean `json:"gsi_adh"`
	SpdLimAdh          stats.Mean `json:"spd_lim_adh"`
	MotorwaySpd        stats.Mean `json:"motorway_spd"`
	IdleDur            stats.Mean `json:"idle_dur"`
}

// NewTripPerformance replays the time-ordered samples of a trip once.
func NewTripPerformance(tripID string, samples []models.TelemetrySample) *TripPerformance {
	t := &TripPerformance{TripID: tripID}
	if len(samples) == 0 {
		return t
	}

	t.StartTime = samples[0].Timestamp
	t.EndTime = samples[len(samples)-1].Timestamp
	t.TravelTime = models.Seconds(t.StartTime, t.EndTime)
	if t.TravelTime == 0 {
		return t
	}

	var idle idleTracker
	idle.observe(t, samples[0], samples[0])

	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]

		t.updDistance(prev, cur)
		t.updAccSmoothness(prev, cur)
		t.updDecSmoothness(prev, cur)
		idle.observe(t, prev, cur)
		t.updGSIAdh(cur.Speed, cur.GSIIndicating)
		t.updSpdLimAdh(cur.Speed, cur.SpeedLimit)
		t.updMotorwaySpd(cur.Speed, cur.SpeedLimit)

		t.SampleCount++
	}

	idle.flush(t, samples[len(samples)-1].Timestamp)
	return t
}

// idleTracker follows the engine running while the vehicle is stationary.
type idleTracker struct {
	idling bool
	start  time.Time
}

func (s *idleTracker) observe(t *TripPerformance, prev, cur models.TelemetrySample) {
	if s.idling {
		switch {
		case !cur.EngineOn:
			t.updIdle(s.start, cur.Timestamp)
			s.idling = false
		case cur.Speed >= 1:
			// Moving off: the idle ended at the last stationary sample.
			t.updIdle(s.start, prev.Timestamp)
			s.idling = false
		}
	}

	if !s.idling && cur.Speed < 1 && cur.EngineOn {
		s.idling = true
		s.start = cur.Timestamp
	}
}

func (s *idleTracker) flush(t *TripPerformance, end time.Time) {
	if s.idling {
		t.updIdle(s.start, end)
		s.idling = false
	}
}

func (t *TripPerformance) updDistance(prev, cur models.TelemetrySample) {
	dt := models.Seconds(prev.Timestamp, cur.Timestamp)
	if dt <= 0 {
		return
	}
	acc := dynamics.Acceleration(prev, cur)
	metres := float64(prev.Speed.Mps())*dt + 0.5*acc*dt*dt
	t.Distance += metres / 1000
}

func (t *TripPerformance) updAccSmoothness(prev, cur models.TelemetrySample) {
	speedDiff := cur.Speed - prev.Speed
	dt := models.Seconds(prev.Timestamp, cur.Timestamp)
	if speedDiff < AccMinSpeedDiff || dt <= 0 {
		return
	}

	acc := float64(speedDiff.Mps()) / dt
	if prev.Speed < 1 {
		t.StartAccSmoothness.Increment(acc)
	} else {
		t.DrivAccSmoothness.Increment(acc)
	}
}

func (t *TripPerformance) updDecSmoothness(prev, cur models.TelemetrySample) {
	speedDiff := cur.Speed - prev.Speed
	dt := models.Seconds(prev.Timestamp, cur.Timestamp)
	if speedDiff > -AccMinSpeedDiff || dt <= 0 {
		return
	}
	t.DecSmoothness.Increment(float64(speedDiff.Mps()) / dt)
}

// updGSIAdh rewards samples where no upshift prompt was showing.
func (t *TripPerformance) updGSIAdh(speed units.Kmh, indicating *bool) {
	if indicating == nil || speed < 1 {
		return
	}
	if *indicating {
		t.GSIAdh.Increment(0)
	} else {
		t.GSIAdh.Increment(100)
	}
}

func (t *TripPerformance) updSpdLimAdh(speed units.Kmh, limit *float64) {
	if limit == nil || speed < 1 {
		return
	}
	if float64(speed) <= *limit {
		t.SpdLimAdh.Increment(100)
	} else {
		t.SpdLimAdh.Increment(0)
	}
}

func (t *TripPerformance) updMotorwaySpd(speed units.Kmh, limit *float64) {
	if limit != nil && *limit == MotorwaySpeedLimit {
		t.MotorwaySpd.Increment(float64(speed))
	}
}

func (t *TripPerformance) updIdle(start, stop time.Time) {
	secs := models.Seconds(start, stop)
	if secs >= IdleMinSecs {
		t.IdleTime += secs
		t.IdleDur.Increment(secs)
	}
}

// Metrics returns the summary uploaded to the remote API.
func (t *TripPerformance) Metrics() models.TripMetrics {
	return models.TripMetrics{
		Start:    t.StartTime,
		End:      t.EndTime,
		Distance: t.Distance,
		IdleSecs: int64(math.RoundToEven(t.IdleTime)),
		GSIAdh:   t.GSIAdh.Ptr(),
	}
}
