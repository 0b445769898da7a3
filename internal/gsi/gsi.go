// Package gsi implements the gear shift indicator.
//
// Every telemetry tick the indicator estimates the road grade, derives the
// most economical upshift engine speed and turns the distance to it into a
// number of lit dots on each side of the display.
package gsi

import (
	"math"
	"sync"

	"eco-drive-assistant/internal/dynamics"
	"eco-drive-assistant/internal/models"
)

const (
	// BaseUpshiftRPM is the upshift point on flat or descending roads.
	BaseUpshiftRPM = 2000.0
	// MaxAddRPM caps the extra engine speed permitted on steep climbs.
	MaxAddRPM = 2000.0
	// AddRPMCoeff scales the climbing load into extra permitted rpm.
	AddRPMCoeff = 400.0
	// FlatGradeDeg is the steepest grade still treated as flat.
	FlatGradeDeg = 3.0

	DefaultHalf       = 4
	DefaultMinRPMDiff = 500.0
)

// Config controls the discretisation of the indicator.
type Config struct {
	// Half is the number of dots on one side of the display.
	Half int
	// MinRPMDiff is the rpm distance to the upshift point at which the first
	// dot lights.
	MinRPMDiff float64
}

// DefaultConfig returns the stock four dots per side, 500 rpm layout.
func DefaultConfig() Config {
	return Config{Half: DefaultHalf, MinRPMDiff: DefaultMinRPMDiff}
}

// State is a snapshot of the indicator for the display.
type State struct {
	Level          int   `json:"level"`
	Total          int   `json:"total"`
	ThrottleActive bool  `json:"throttle_active"`
	Indicating     *bool `json:"indicating"`
	Gear           int   `json:"gear"`
}

// Predictor holds the indicator state for one device. Update is called from
// the telemetry loop while the getters may be read by the API server, so
// access is guarded.
type Predictor struct {
	model dynamics.Model
	cfg   Config

	mu             sync.RWMutex
	level          int
	throttleActive bool
	gear           int
}

// NewPredictor creates a Predictor for the given vehicle and trip load.
func NewPredictor(profile models.VehicleProfile, trip models.TripContext, cfg Config) *Predictor {
	if cfg.Half < 2 {
		cfg.Half = DefaultHalf
	}
	if cfg.MinRPMDiff <= 0 {
		cfg.MinRPMDiff = DefaultMinRPMDiff
	}
	return &Predictor{
		model: dynamics.Model{Profile: profile, Trip: trip},
		cfg:   cfg,
	}
}

// SetTrip replaces the trip load, e.g. when a new trip starts.
func (p *Predictor) SetTrip(trip models.TripContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model.Trip = trip
}

// Update recomputes the indication from the current and previous samples.
func (p *Predictor) Update(cur, prev models.TelemetrySample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.throttleActive = cur.Throttle >= 1
	p.gear = CurrentGear(cur.EngineRPM, cur.Speed, p.model.Profile)

	if cur.Speed < 1 || p.gear == 0 || p.gear == p.model.Profile.GearCount {
		p.level = 0
		return
	}

	rpmDiff := UpshiftRPM(p.model, cur, prev) - cur.EngineRPM
	p.level = Discretize(rpmDiff, p.cfg)
}

// Level returns the number of dots lit on each side.
func (p *Predictor) Level() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

// ThrottleActive reports whether the throttle was pressed on the last tick.
func (p *Predictor) ThrottleActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.throttleActive
}

// IsIndicating reports whether a shift prompt is showing. It returns nil
// when the throttle is released since no guidance applies then.
func (p *Predictor) IsIndicating() *bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isIndicating()
}

func (p *Predictor) isIndicating() *bool {
	if !p.throttleActive {
		return nil
	}
	v := p.level == p.cfg.Half
	return &v
}

// State returns a consistent snapshot of the indicator.
func (p *Predictor) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return State{
		Level:          p.level,
		Total:          p.cfg.Half * 2,
		ThrottleActive: p.throttleActive,
		Indicating:     p.isIndicating(),
		Gear:           p.gear,
	}
}

// Grade estimates the road grade in radians from the altitude change over
// the distance covered between two samples. With no distance covered the
// grade cannot be observed and the road is treated as flat.
func Grade(cur, prev models.TelemetrySample) float64 {
	altDiff := cur.Altitude - prev.Altitude
	avgSpeed := ((cur.Speed + prev.Speed) / 2).Mps()
	distance := float64(avgSpeed) * models.Seconds(prev.Timestamp, cur.Timestamp)
	if distance == 0 {
		return 0
	}
	return math.Atan(altDiff / distance)
}

// UpshiftRPM returns the most economical engine speed to change up at.
// Climbs steeper than FlatGradeDeg allow extra rpm in proportion to the
// additional tractive effort the grade demands.
func UpshiftRPM(model dynamics.Model, cur, prev models.TelemetrySample) float64 {
	grade := Grade(cur, prev)
	if grade*180/math.Pi <= FlatGradeDeg {
		return BaseUpshiftRPM
	}

	tracEff := model.TractiveEffort(prev, cur, grade)
	tracEffFlat := model.TractiveEffort(prev, cur, 0)
	addRPM := math.Min(MaxAddRPM, AddRPMCoeff*(tracEff/tracEffFlat-1))

	return BaseUpshiftRPM + addRPM
}

// Discretize maps the rpm remaining until the upshift point to a number of
// dots. Beyond MinRPMDiff nothing is lit, at or past the upshift point all
// Half dots are lit, and the range between is split into Half-1 bins of
// (max, min] with rounded edges.
func Discretize(rpmDiff float64, cfg Config) int {
	if rpmDiff > cfg.MinRPMDiff {
		return 0
	}
	if rpmDiff <= 0 {
		return cfg.Half
	}

	step := cfg.MinRPMDiff / float64(cfg.Half-1)
	for i := 1; i < cfg.Half; i++ {
		maxDiff := math.RoundToEven(cfg.MinRPMDiff - step*float64(i-1))
		minDiff := math.RoundToEven(maxDiff - step)
		if rpmDiff <= maxDiff && rpmDiff > minDiff {
			return i
		}
	}

	// Only reachable through rounding at the bin edges.
	return cfg.Half - 1
}
