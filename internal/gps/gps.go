// Package gps simulates a GPS receiver by looping over a recorded route.
package gps

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"eco-drive-assistant/internal/models"

	"gopkg.in/yaml.v3"
)

type waypoint struct {
	at     float64 // seconds since the start of the route
	coords models.Coordinates
}

// Route is a sequence of timed waypoints. Positions between waypoints are
// interpolated linearly and the route repeats once the last waypoint is
// reached.
type Route struct {
	points []waypoint
}

// LoadRoute reads a route file. The file maps seconds to coordinates:
//
//	0: {latitude: 51.5, longitude: -0.12}
//	30: {latitude: 51.51, longitude: -0.11}
func LoadRoute(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route: %w", err)
	}
	return ParseRoute(data)
}

// ParseRoute decodes a YAML route.
func ParseRoute(data []byte) (*Route, error) {
	var raw map[float64]models.Coordinates
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse route: %w", err)
	}

	points := make([]waypoint, 0, len(raw))
	for at, c := range raw {
		if at < 0 {
			return nil, fmt.Errorf("negative waypoint time %v", at)
		}
		points = append(points, waypoint{at: at, coords: c})
	}
	return newRoute(points...)
}

// newRoute builds a route from waypoints in any order.
func newRoute(points ...waypoint) (*Route, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("route needs at least 2 waypoints, got %d", len(points))
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at < points[j].at })
	if points[len(points)-1].at <= 0 {
		return nil, fmt.Errorf("route has zero length")
	}
	return &Route{points: points}, nil
}

// Period is the time after which the route repeats.
func (r *Route) Period() time.Duration {
	return time.Duration(r.points[len(r.points)-1].at * float64(time.Second))
}

// At returns the position elapsed after the route started.
func (r *Route) At(elapsed time.Duration) models.Coordinates {
	period := r.points[len(r.points)-1].at

	// Millisecond resolution keeps float noise out of the interpolation.
	secs := math.Round(elapsed.Seconds()*1000) / 1000
	secs = math.Mod(secs, period)
	if secs < 0 {
		secs += period
	}

	for i := 0; i < len(r.points)-1; i++ {
		cur, next := r.points[i], r.points[i+1]
		if cur.at <= secs && secs < next.at {
			pct := (secs - cur.at) / (next.at - cur.at)
			return models.Coordinates{
				Latitude:  cur.coords.Latitude + (next.coords.Latitude-cur.coords.Latitude)*pct,
				Longitude: cur.coords.Longitude + (next.coords.Longitude-cur.coords.Longitude)*pct,
			}
		}
	}

	// Before the first waypoint when the route does not start at zero.
	return r.points[0].coords
}

// Receiver reports the route position for the wall clock.
type Receiver struct {
	route *Route
	start time.Time
	now   func() time.Time
}

// NewReceiver starts following route now.
func NewReceiver(route *Route) *Receiver {
	return &Receiver{route: route, start: time.Now(), now: time.Now}
}

// Coordinates returns the current simulated position.
func (g *Receiver) Coordinates() models.Coordinates {
	return g.route.At(g.now().Sub(g.start))
}

// CoordinatesAt returns the simulated position at t.
func (g *Receiver) CoordinatesAt(t time.Time) models.Coordinates {
	return g.route.At(t.Sub(g.start))
}
