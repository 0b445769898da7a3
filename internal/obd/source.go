// Package obd reads live vehicle telemetry.
//
// Readings come from an ELM327 adapter on a serial port, from the driving
// simulator's emulation server over TCP, or from a recorded drive.
package obd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"
)

// ErrDisconnected is returned once the vehicle connection is gone.
var ErrDisconnected = errors.New("obd: disconnected")

// ErrUnsupportedPID is returned when the vehicle does not report a PID.
var ErrUnsupportedPID = errors.New("obd: unsupported pid")

// PID is a mode 01 parameter id.
type PID byte

const (
	PIDRPM          PID = 0x0C
	PIDSpeed        PID = 0x0D
	PIDThrottle     PID = 0x11
	PIDFuelLevel    PID = 0x2F
	PIDBaroPressure PID = 0x33
)

func (p PID) String() string {
	switch p {
	case PIDRPM:
		return "RPM"
	case PIDSpeed:
		return "SPEED"
	case PIDThrottle:
		return "THROTTLE_POS"
	case PIDFuelLevel:
		return "FUEL_LEVEL"
	case PIDBaroPressure:
		return "BAROMETRIC_PRESSURE"
	}
	return fmt.Sprintf("PID(%#02x)", byte(p))
}

// Source produces one telemetry sample per call. The sample carries no
// trip, GSI flag or speed limit. Read returns ErrDisconnected when the
// vehicle goes away.
type Source interface {
	Read(ctx context.Context) (models.TelemetrySample, error)
	Close() error
}

// Querier answers single PID requests with the decoded value. Barometric
// pressure is reported in Pa.
type Querier interface {
	Query(ctx context.Context, pid PID) (float64, error)
	Close() error
}

// Altitude converts barometric pressure in Pa to metres above sea level.
func Altitude(pa float64) float64 {
	return 44330.8 - 4946.54*math.Pow(pa, 0.1902632)
}

// Pressure is the inverse of Altitude.
func Pressure(altitude float64) float64 {
	return math.Pow((44330.8-altitude)/4946.54, 1/0.1902632)
}

// QuerySource builds samples from individual PID queries.
type QuerySource struct {
	q   Querier
	now func() time.Time
}

// NewQuerySource wraps q. Samples are stamped with the wall clock.
func NewQuerySource(q Querier) *QuerySource {
	return &QuerySource{q: q, now: time.Now}
}

// Read queries every PID the assistant needs.
func (s *QuerySource) Read(ctx context.Context) (models.TelemetrySample, error) {
	var sample models.TelemetrySample

	pressure, err := s.q.Query(ctx, PIDBaroPressure)
	if err != nil {
		return sample, err
	}
	rpm, err := s.q.Query(ctx, PIDRPM)
	if err != nil {
		return sample, err
	}
	speed, err := s.q.Query(ctx, PIDSpeed)
	if err != nil {
		return sample, err
	}
	throttle, err := s.q.Query(ctx, PIDThrottle)
	if err != nil {
		return sample, err
	}
	fuel, err := s.q.Query(ctx, PIDFuelLevel)
	if err != nil {
		return sample, err
	}

	sample.Timestamp = s.now()
	sample.EngineOn = true
	sample.EngineRPM = rpm
	sample.Speed = units.Kmh(speed)
	sample.Throttle = throttle
	sample.FuelLevel = fuel
	sample.Altitude = Altitude(pressure)
	return sample, nil
}

// Close closes the underlying connection.
func (s *QuerySource) Close() error {
	return s.q.Close()
}
