// Package stats provides the running statistics used by trip scoring.
package stats

import (
	"encoding/json"
	"fmt"
)

// Mean is a running arithmetic mean that can be updated one observation at a
// time or merged with another Mean. The zero value is an empty mean.
//
// A Mean with Count == 0 has no value. Combine is associative and
// commutative up to floating point rounding, so partial means computed over
// any partition of the observations merge to the same result.
type Mean struct {
	value float64
	count int
}

// NewMean returns a Mean that already summarises count observations with
// the given average. A non-positive count yields an empty Mean.
func NewMean(value float64, count int) Mean {
	if count <= 0 {
		return Mean{}
	}
	return Mean{value: value, count: count}
}

// Increment adds a single observation.
func (m *Mean) Increment(v float64) {
	if m.count == 0 {
		m.value = v
	} else {
		m.value += (v - m.value) / float64(m.count+1)
	}
	m.count++
}

// Combine merges other into m. other is left untouched.
func (m *Mean) Combine(other Mean) {
	if other.count == 0 {
		return
	}
	if m.count == 0 {
		*m = other
		return
	}

	total := m.count + other.count
	m.value = (m.value*float64(m.count) + other.value*float64(other.count)) / float64(total)
	m.count = total
}

// Combined returns the merge of a and b without modifying either.
func Combined(a, b Mean) Mean {
	a.Combine(b)
	return a
}

// Value returns the mean and whether any observation has been recorded.
func (m Mean) Value() (float64, bool) {
	return m.value, m.count > 0
}

// Ptr returns the mean as a pointer, nil when empty. Handy for JSON payloads
// where an absent statistic must be omitted rather than reported as zero.
func (m Mean) Ptr() *float64 {
	if m.count == 0 {
		return nil
	}
	v := m.value
	return &v
}

// Count returns the number of observations.
func (m Mean) Count() int {
	return m.count
}

func (m Mean) String() string {
	if m.count == 0 {
		return "(Mean: none, Count: 0)"
	}
	return fmt.Sprintf("(Mean: %g, Count: %d)", m.value, m.count)
}

type meanJSON struct {
	Value *float64 `json:"value"`
	Count int      `json:"count"`
}

// MarshalJSON encodes the mean as {"value": ..., "count": ...} with a null
// value when empty.
func (m Mean) MarshalJSON() ([]byte, error) {
	return json.Marshal(meanJSON{Value: m.Ptr(), Count: m.count})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Mean) UnmarshalJSON(data []byte) error {
	var raw meanJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Value == nil {
		*m = Mean{}
		return nil
	}
	*m = NewMean(*raw.Value, raw.Count)
	return nil
}
