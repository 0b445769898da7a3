// Package dynamics models the longitudinal forces acting on the vehicle.
//
// Speeds enter as km/h and are converted to m/s before any force is
// computed. Forces are in newtons, masses in kilograms and grades in radians.
package dynamics

import (
	"math"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"
)

const (
	// RotatingMassCoeff inflates the inertial term for drivetrain inertia.
	RotatingMassCoeff = 1.08
	// RollingResistanceCoeff is the tyre rolling resistance coefficient.
	RollingResistanceCoeff = 0.01
	Gravity                = 9.81
	AirDensity             = 1.202 // kg/m³
	// PersonWeight is the mass assumed per occupant, driver included.
	PersonWeight = 75.0
)

// VehicleMass returns the laden mass of the vehicle for a trip.
func VehicleMass(profile models.VehicleProfile, trip models.TripContext) float64 {
	mass := profile.CurbWeight + PersonWeight*float64(trip.Passengers+1) + trip.Cargo
	if trip.RoofAtt != nil {
		mass += trip.RoofAtt.Weight
	}
	return mass
}

// Drag returns the aerodynamic drag of a body at the given speed.
func Drag(frontalArea, dragCoeff float64, speed units.Mps) float64 {
	v := float64(speed)
	return 0.5 * AirDensity * dragCoeff * frontalArea * v * v
}

// AeroDrag returns the total drag of the vehicle plus any roof attachment.
func AeroDrag(profile models.VehicleProfile, trip models.TripContext, speed units.Mps) float64 {
	drag := Drag(profile.FrontalArea, profile.DragCoeff, speed)
	if trip.RoofAtt != nil {
		drag += Drag(trip.RoofAtt.FrontalArea, trip.RoofAtt.DragCoeff, speed)
	}
	return drag
}

// Acceleration returns the mean acceleration between two samples in m/s².
// Samples taken at the same instant yield zero.
func Acceleration(prev, cur models.TelemetrySample) float64 {
	dt := models.Seconds(prev.Timestamp, cur.Timestamp)
	if dt == 0 {
		return 0
	}
	return float64(cur.Speed.Mps()-prev.Speed.Mps()) / dt
}

// Model binds a vehicle profile to the load of the current trip.
type Model struct {
	Profile models.VehicleProfile
	Trip    models.TripContext
}

// Mass returns the laden mass.
func (m Model) Mass() float64 {
	return VehicleMass(m.Profile, m.Trip)
}

// TractiveEffort returns the force the wheels must deliver to move from
// prev to cur on a road with the given grade. Deceleration is treated as
// zero acceleration since braking is not part of the model.
func (m Model) TractiveEffort(prev, cur models.TelemetrySample, grade float64) float64 {
	mass := m.Mass()
	acc := Acceleration(prev, cur)
	if acc < 0 {
		acc = 0
	}

	rolling := RollingResistanceCoeff * mass * Gravity * math.Cos(grade)
	drag := AeroDrag(m.Profile, m.Trip, cur.Speed.Mps())
	gradeRes := mass * Gravity * math.Sin(grade)

	return RotatingMassCoeff*mass*acc + rolling + drag + gradeRes
}
