package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKmhToMps(t *testing.T) {
	tests := []struct {
		kmh  Kmh
		want Mps
	}{
		{0, 0},
		{18, 5},
		{36, 10},
		{-18, -5},
		{10, 2.7777777},
	}

	for _, tt := range tests {
		assert.InDelta(t, float64(tt.want), float64(tt.kmh.Mps()), 1e-6, "kmh=%v", tt.kmh)
	}
}

func TestKmhToMph(t *testing.T) {
	assert.InDelta(t, 70.0, float64(Kmh(70*KmPerMile).Mph()), 1e-9)
	assert.InDelta(t, 0.0, float64(Kmh(0).Mph()), 1e-9)
}

func TestMphToKmh(t *testing.T) {
	assert.InDelta(t, 112.65408, float64(Mph(70).Kmh()), 1e-9)
}
