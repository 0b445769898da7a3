package models

import (
	"time"

	"eco-drive-assistant/internal/units"
)

// TelemetrySample represents a single reading from the vehicle
type TelemetrySample struct {
	ID            int64     `json:"id,omitempty"`
	TripID        string    `json:"trip_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	EngineOn      bool      `json:"engine_on"`
	Speed         units.Kmh `json:"speed"`    // km/h
	EngineRPM     float64   `json:"rpm"`      // rev/min
	Throttle      float64   `json:"throttle"` // percentage
	FuelLevel     float64   `json:"fuel_level"`
	Altitude      float64   `json:"altitude"` // metres
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	GSIIndicating *bool     `json:"gsi_indicating"`        // nil when the throttle was released
	SpeedLimit    *float64  `json:"speed_limit,omitempty"` // km/h, nil when unknown
}

// Seconds returns the time from a to b in seconds.
func Seconds(a, b time.Time) float64 {
	return b.Sub(a).Seconds()
}

// Coordinates is a GPS position
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// VehicleProfile holds the static physical description of the vehicle.
// Gears[0] is the reverse ratio and Gears[GearCount] the top gear, each
// expressed as engine rpm per km/h of road speed.
type VehicleProfile struct {
	CurbWeight  float64   `json:"curb_weight" yaml:"curbWeight"`   // kg
	FrontalArea float64   `json:"frontal_area" yaml:"frontalArea"` // m²
	DragCoeff   float64   `json:"drag_coeff" yaml:"dragCoeff"`
	GearCount   int       `json:"gear_count" yaml:"gearCount"`
	Gears       []float64 `json:"gears" yaml:"gears"`
}

// RoofAttachment is an optional roof box or rack that adds mass and drag
type RoofAttachment struct {
	ID          int64   `json:"id,omitempty" yaml:"-"`
	Weight      float64 `json:"weight" yaml:"weight"` // kg
	DragCoeff   float64 `json:"drag_coeff" yaml:"dragCoeff"`
	FrontalArea float64 `json:"frontal_area" yaml:"frontalArea"` // m²
}

// TripContext describes the load carried during a trip
type TripContext struct {
	Passengers int             `json:"passengers" yaml:"passengers"` // excluding the driver
	Cargo      float64         `json:"cargo" yaml:"cargo"`           // kg
	RoofAtt    *RoofAttachment `json:"roof_attachment,omitempty" yaml:"roofAttachment,omitempty"`
}

// Trip is a continuous driving session
type Trip struct {
	ID        string      `json:"id"`
	Context   TripContext `json:"context"`
	RemoteID  string      `json:"remote_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// TripMetrics is the payload uploaded to the remote scoring API for a trip
type TripMetrics struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Distance float64   `json:"distance"` // km
	IdleSecs int64     `json:"idleSecs"`
	GSIAdh   *float64  `json:"gsiAdh,omitempty"`
}

// ScoreReport is the payload uploaded to the remote scoring API for a
// feedback window. Absent factor scores are omitted.
type ScoreReport struct {
	CalculatedAt       time.Time `json:"calculatedAt"`
	EcoDriving         int       `json:"ecoDriving"`
	DrivAccSmoothness  *int      `json:"drivAccSmoothness,omitempty"`
	StartAccSmoothness *int      `json:"startAccSmoothness,omitempty"`
	DecSmoothness      *int      `json:"decSmoothness,omitempty"`
	GSIAdh             *int      `json:"gsiAdh,omitempty"`
	SpeedLimitAdh      *int      `json:"speedLimitAdh,omitempty"`
	MotorwaySpeed      *int      `json:"motorwaySpeed,omitempty"`
	IdleDuration       *int      `json:"idleDuration,omitempty"`
	JourneyIdlePct     *int      `json:"journeyIdlePct,omitempty"`
	JourneyDistance    *int      `json:"journeyDistance,omitempty"`
}

// SampleQuery represents query parameters for sample searches
type SampleQuery struct {
	TripID    string
	StartTime time.Time
	EndTime   time.Time
	MinSpeed  float64
	MaxSpeed  float64
	Limit     int
	Offset    int
}
