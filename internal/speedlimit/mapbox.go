// Package speedlimit looks up road speed limits with the Mapbox map
// matching API.
package speedlimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"
)

// DefaultBaseURL is the Mapbox API root.
const DefaultBaseURL = "https://api.mapbox.com"

// Client queries Mapbox for the speed limit of the road being driven.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether an access token is configured.
func (c *Client) Enabled() bool {
	return c.token != ""
}

type maxSpeed struct {
	Speed   float64 `json:"speed"`
	Unit    string  `json:"unit"`
	Unknown bool    `json:"unknown"`
	None    bool    `json:"none"`
}

type matching struct {
	Confidence float64 `json:"confidence"`
	Legs       []struct {
		Annotation struct {
			MaxSpeed []maxSpeed `json:"maxspeed"`
		} `json:"annotation"`
	} `json:"legs"`
}

type matchResponse struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	Matchings []matching `json:"matchings"`
}

// mostConfident returns the matching with the highest confidence, nil
// when no matching has a positive confidence.
func mostConfident(ms []matching) *matching {
	var best *matching
	highest := 0.0
	for i := range ms {
		if ms[i].Confidence > highest {
			highest = ms[i].Confidence
			best = &ms[i]
		}
	}
	return best
}

// Lookup matches the segment between prev and cur to a road and returns
// its speed limit in km/h. A nil limit with a nil error means the road has
// no known limit.
func (c *Client) Lookup(ctx context.Context, cur, prev models.Coordinates) (*float64, error) {
	if !c.Enabled() {
		return nil, nil
	}

	coords := formatCoords(cur) + ";" + formatCoords(prev)
	q := url.Values{}
	q.Set("annotations", "maxspeed")
	q.Set("overview", "full")
	q.Set("access_token", c.token)
	endpoint := c.baseURL + "/matching/v5/mapbox/driving/" + coords + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("map matching request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("map matching returned %s", resp.Status)
	}

	var body matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode map matching response: %w", err)
	}
	if body.Code != "Ok" {
		return nil, fmt.Errorf("map matching failed: %s %s", body.Code, body.Message)
	}

	route := mostConfident(body.Matchings)
	if route == nil || len(route.Legs) == 0 || len(route.Legs[0].Annotation.MaxSpeed) == 0 {
		return nil, nil
	}

	return toKmh(route.Legs[0].Annotation.MaxSpeed[0]), nil
}

func toKmh(m maxSpeed) *float64 {
	if m.Unknown || m.None {
		return nil
	}
	var kmh float64
	switch m.Unit {
	case "km/h":
		kmh = m.Speed
	case "mph":
		kmh = float64(units.Mph(m.Speed).Kmh())
	default:
		return nil
	}
	return &kmh
}

func formatCoords(c models.Coordinates) string {
	return strconv.FormatFloat(c.Longitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Latitude, 'f', -1, 64)
}
