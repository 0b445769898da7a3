package performance

import (
	"math"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/stats"
	"eco-drive-assistant/internal/units"
)

// DefaultWindowDays is the length of the rolling feedback window.
const DefaultWindowDays = 30

// DefaultScore is reported when no factor has any data.
const DefaultScore = 100

// Factor identifies one eco-driving factor.
type Factor int

const (
	DrivAccSmoothness Factor = iota
	StartAccSmoothness
	DecSmoothness
	GSIAdherence
	SpeedLimitAdherence
	MotorwaySpeed
	IdleDuration
	TripIdlePct
	TripDistance
	numFactors
)

var factorNames = [numFactors]string{
	DrivAccSmoothness:   "drivAccSmoothness",
	StartAccSmoothness:  "startAccSmoothness",
	DecSmoothness:       "decSmoothness",
	GSIAdherence:        "gsiAdh",
	SpeedLimitAdherence: "speedLimitAdh",
	MotorwaySpeed:       "motorwaySpeed",
	IdleDuration:        "idleDuration",
	TripIdlePct:         "journeyIdlePct",
	TripDistance:        "journeyDistance",
}

func (f Factor) String() string {
	if f < 0 || f >= numFactors {
		return "unknown"
	}
	return factorNames[f]
}

// Factors lists every factor in reporting order.
func Factors() []Factor {
	out := make([]Factor, numFactors)
	for i := range out {
		out[i] = Factor(i)
	}
	return out
}

// Bounds maps a raw statistic linearly onto 0-100.
type Bounds struct {
	Min, Max float64
	Reverse  bool
}

// linearBounds are the scoring ranges of every factor except motorway
// speed, which has its own curve.
var linearBounds = map[Factor]Bounds{
	DrivAccSmoothness:   {Min: 0.2, Max: 1.4705, Reverse: true},
	StartAccSmoothness:  {Min: 0.2, Max: 2.598, Reverse: true},
	DecSmoothness:       {Min: -6.72, Max: -0.2},
	GSIAdherence:        {Min: 0, Max: 100},
	SpeedLimitAdherence: {Min: 0, Max: 100},
	IdleDuration:        {Min: 5, Max: 60, Reverse: true},
	TripIdlePct:         {Min: 0, Max: 100, Reverse: true},
	TripDistance:        {Min: 2, Max: 5},
}

// Weights is the contribution of each factor to the composite score.
var Weights = [numFactors]int{
	DrivAccSmoothness:   4,
	DecSmoothness:       4,
	GSIAdherence:        3,
	SpeedLimitAdherence: 3,
	MotorwaySpeed:       3,
	IdleDuration:        2,
	TripIdlePct:         2,
	TripDistance:        1,
	StartAccSmoothness:  1,
}

// LinearScore places value on a 0-100 scale between min and max. Reverse
// flips the scale so that min scores 100.
func LinearScore(value float64, b Bounds) int {
	score := (value - b.Min) / (b.Max - b.Min) * 100
	if b.Reverse {
		score = 100 - score
	}
	return clampScore(score)
}

// MotorwaySpeedScore scores a mean motorway speed: 60 mph or slower scores
// 100, 70 mph scores 75 and 75 mph or faster scores 0, linear in between.
func MotorwaySpeedScore(speed units.Kmh) int {
	mph := float64(speed.Mph())

	var score float64
	switch {
	case mph == 70:
		return 75
	case mph > 70:
		score = 75 - (mph-70)/(75-70)*75
	default:
		score = 100 - (mph-60)/(70-60)*25
	}
	return clampScore(score)
}

func clampScore(score float64) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return int(math.RoundToEven(score))
	}
}

// Composite returns the weighted mean of the present scores, or
// DefaultScore when none are present.
func Composite(scores [numFactors]*int) int {
	var sum, weights int
	for f, s := range scores {
		if s == nil {
			continue
		}
		sum += *s * Weights[f]
		weights += Weights[f]
	}
	if weights == 0 {
		return DefaultScore
	}
	return int(math.RoundToEven(float64(sum) / float64(weights)))
}

// Tier bands a score into five display levels of twenty points each.
func Tier(score int) int {
	switch {
	case score <= 20:
		return 0
	case score <= 40:
		return 1
	case score <= 60:
		return 2
	case score <= 80:
		return 3
	default:
		return 4
	}
}

// FeedbackWindow accumulates the performance of the trips in a rolling
// window and scores it.
type FeedbackWindow struct {
	TripIDs     []string `json:"trip_ids"`
	SampleCount int      `json:"sample_count"`

	DrivAccSmoothness  stats.Mean `json:"driv_acc_smoothness"`
	StartAccSmoothness stats.Mean `json:"start_acc_smoothness"`
	DecSmoothness      stats.Mean `json:"dec_smoothness"`
	GSIAdh             stats.Mean `json:"gsi_adh"`
	SpdLimAdh          stats.Mean `json:"spd_lim_adh"`
	MotorwaySpd        stats.Mean `json:"motorway_spd"`
	IdleDur            stats.Mean `json:"idle_dur"`
	TripIdlePct        stats.Mean `json:"trip_idle_pct"`
	TripDist           stats.Mean `json:"trip_dist"`

	Scores     [numFactors]*int `json:"-"`
	EcoDriving int              `json:"eco_driving"`
}

// NewFeedbackWindow folds the trips into a new window and scores it.
func NewFeedbackWindow(trips ...*TripPerformance) *FeedbackWindow {
	w := &FeedbackWindow{}
	for _, t := range trips {
		w.AddTrip(t)
	}
	w.Score()
	return w
}

// AddTrip merges a trip's statistics into the window. Scores are not
// refreshed until Score is called.
func (w *FeedbackWindow) AddTrip(t *TripPerformance) {
	w.TripIDs = append(w.TripIDs, t.TripID)
	w.SampleCount += t.SampleCount

	w.DrivAccSmoothness.Combine(t.DrivAccSmoothness)
	w.StartAccSmoothness.Combine(t.StartAccSmoothness)
	w.DecSmoothness.Combine(t.DecSmoothness)
	w.GSIAdh.Combine(t.GSIAdh)
	w.SpdLimAdh.Combine(t.SpdLimAdh)
	w.MotorwaySpd.Combine(t.MotorwaySpd)
	w.IdleDur.Combine(t.IdleDur)

	if t.TravelTime > 0 {
		w.TripIdlePct.Increment(t.IdleTime / t.TravelTime * 100)
		w.TripDist.Increment(t.Distance)
	}
}

// Merge folds another partial window into w, e.g. when trips were
// aggregated in separate partitions.
func (w *FeedbackWindow) Merge(o *FeedbackWindow) {
	w.TripIDs = append(w.TripIDs, o.TripIDs...)
	w.SampleCount += o.SampleCount

	w.DrivAccSmoothness.Combine(o.DrivAccSmoothness)
	w.StartAccSmoothness.Combine(o.StartAccSmoothness)
	w.DecSmoothness.Combine(o.DecSmoothness)
	w.GSIAdh.Combine(o.GSIAdh)
	w.SpdLimAdh.Combine(o.SpdLimAdh)
	w.MotorwaySpd.Combine(o.MotorwaySpd)
	w.IdleDur.Combine(o.IdleDur)
	w.TripIdlePct.Combine(o.TripIdlePct)
	w.TripDist.Combine(o.TripDist)
}

func (w *FeedbackWindow) mean(f Factor) stats.Mean {
	switch f {
	case DrivAccSmoothness:
		return w.DrivAccSmoothness
	case StartAccSmoothness:
		return w.StartAccSmoothness
	case DecSmoothness:
		return w.DecSmoothness
	case GSIAdherence:
		return w.GSIAdh
	case SpeedLimitAdherence:
		return w.SpdLimAdh
	case MotorwaySpeed:
		return w.MotorwaySpd
	case IdleDuration:
		return w.IdleDur
	case TripIdlePct:
		return w.TripIdlePct
	case TripDistance:
		return w.TripDist
	}
	return stats.Mean{}
}

// Score refreshes every factor score and the composite score.
func (w *FeedbackWindow) Score() {
	for _, f := range Factors() {
		v, ok := w.mean(f).Value()
		if !ok {
			w.Scores[f] = nil
			continue
		}

		var s int
		if f == MotorwaySpeed {
			s = MotorwaySpeedScore(units.Kmh(v))
		} else {
			s = LinearScore(v, linearBounds[f])
		}
		w.Scores[f] = &s
	}
	w.EcoDriving = Composite(w.Scores)
}

// FactorScore returns the score of one factor, nil when it has no data.
func (w *FeedbackWindow) FactorScore(f Factor) *int {
	if f < 0 || f >= numFactors {
		return nil
	}
	return w.Scores[f]
}

// FactorScores returns the present factor scores keyed by factor name.
func (w *FeedbackWindow) FactorScores() map[string]int {
	out := make(map[string]int)
	for _, f := range Factors() {
		if s := w.Scores[f]; s != nil {
			out[f.String()] = *s
		}
	}
	return out
}

// Report builds the remote API payload.
func (w *FeedbackWindow) Report(at time.Time) models.ScoreReport {
	return models.ScoreReport{
		CalculatedAt:       at.UTC(),
		EcoDriving:         w.EcoDriving,
		DrivAccSmoothness:  w.Scores[DrivAccSmoothness],
		StartAccSmoothness: w.Scores[StartAccSmoothness],
		DecSmoothness:      w.Scores[DecSmoothness],
		GSIAdh:             w.Scores[GSIAdherence],
		SpeedLimitAdh:      w.Scores[SpeedLimitAdherence],
		MotorwaySpeed:      w.Scores[MotorwaySpeed],
		IdleDuration:       w.Scores[IdleDuration],
		JourneyIdlePct:     w.Scores[TripIdlePct],
		JourneyDistance:    w.Scores[TripDistance],
	}
}
