// Package units holds the speed quantities used across the device.
//
// Road speed arrives from the vehicle in km/h and stays in km/h wherever it is
// compared against gear ratios or speed limits. Physics formulas work in m/s.
// Keeping the two as distinct types means a conversion is always explicit.
package units

// Kmh is a speed in kilometres per hour.
type Kmh float64

// Mps is a speed in metres per second.
type Mps float64

// Mph is a speed in miles per hour.
type Mph float64

// KmPerMile is the conversion factor used for motorway speed scoring.
const KmPerMile = 1.60934

// Mps converts km/h to m/s.
func (k Kmh) Mps() Mps {
	return Mps(float64(k) * (5.0 / 18.0))
}

// Mph converts km/h to mph.
func (k Kmh) Mph() Mph {
	return Mph(float64(k) / KmPerMile)
}

// Kmh converts mph to km/h. Speed limit providers report either unit and
// this uses the exact statute-mile factor.
func (m Mph) Kmh() Kmh {
	return Kmh(float64(m) * 1.609344)
}
