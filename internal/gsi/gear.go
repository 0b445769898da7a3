package gsi

import (
	"math"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"
)

// CurrentGear returns the index of the gear whose ratio is closest to the
// observed engine speed per km/h. Index 0 is reverse and profile.GearCount
// is top gear. Below 1 km/h the ratio is meaningless and first gear is
// assumed; reverse also reports a positive road speed.
func CurrentGear(rpm float64, speed units.Kmh, profile models.VehicleProfile) int {
	if speed < 1 {
		return 1
	}

	ratio := rpm / float64(speed)
	gear := 0
	best := math.Inf(1)

	for i := 0; i <= profile.GearCount && i < len(profile.Gears); i++ {
		diff := math.Abs(ratio - profile.Gears[i])
		if diff < best {
			gear = i
			best = diff
		}
	}

	return gear
}
