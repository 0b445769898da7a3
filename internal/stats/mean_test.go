package stats

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestMean_Increment(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
		ok     bool
	}{
		{"empty", nil, 0, false},
		{"zero", []float64{0}, 0, true},
		{"single", []float64{1}, 1, true},
		{"pair", []float64{1, 5}, 3, true},
		{"negative", []float64{-1, -5}, -3, true},
		{"mixed", []float64{-24, -16, -15, -13, -10, 9, 12, 13, 13, 15, 16, 18}, 1.5, true},
		{"large", []float64{
			362765.34393, -507980, -910213, 533826.811383, 250728.7015028,
			531662.1266343, -939821.4385395, 864889.156, 780024.81626832,
			-320838.68, 356487.08471345, -270808.531176597,
			573152.867853475, -320920.47, -615068.1989, 254035.8994976,
			-649911.2003275, -799328.92919, 695973.57401, 388405.22666,
		}, 12853.058015967, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Mean
			for _, v := range tt.values {
				m.Increment(v)
			}
			got, ok := m.Value()
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, len(tt.values), m.Count())
			if ok {
				assert.InEpsilon(t, tt.want, got, 1e-6)
			}
		})
	}
}

func TestMean_Combine(t *testing.T) {
	tests := []struct {
		name string
		a, b Mean
		want float64
		ok   bool
	}{
		{"both empty", Mean{}, Mean{}, 0, false},
		{"zeros", NewMean(0, 1), NewMean(0, 1), 0, true},
		{"right empty", NewMean(1, 1), Mean{}, 1, true},
		{"left empty", Mean{}, NewMean(1, 1), 1, true},
		{"equal counts", NewMean(175036.10845341, 20), NewMean(-169714.41945909, 20), 2660.8444971619, true},
		{"unequal counts", NewMean(-186803.84966369, 8), NewMean(96685.533289278, 32), 39987.656698685, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.a, tt.b
			a.Combine(b)
			got, ok := a.Value()
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.InDelta(t, tt.want, got, 1e-6)
			}
			assert.Equal(t, tt.a.Count()+tt.b.Count(), a.Count())
			// The argument survives with its own state.
			assert.Equal(t, tt.b, b)
		})
	}
}

func TestMean_CombineMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 500)
	for i := range values {
		values[i] = rng.NormFloat64()*50 + 10
	}
	want := stat.Mean(values, nil)

	for trial := 0; trial < 20; trial++ {
		// Random partition into groups.
		var parts []Mean
		var cur Mean
		for _, v := range values {
			cur.Increment(v)
			if rng.Intn(7) == 0 {
				parts = append(parts, cur)
				cur = Mean{}
			}
		}
		parts = append(parts, cur)

		// Merge in a shuffled order.
		rng.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })
		var total Mean
		for _, p := range parts {
			total.Combine(p)
		}

		got, ok := total.Value()
		require.True(t, ok)
		assert.InDelta(t, want, got, 1e-9)
		assert.Equal(t, len(values), total.Count())
	}
}

func TestMean_CombineAssociative(t *testing.T) {
	a, b, c := NewMean(3, 2), NewMean(-8, 5), NewMean(12.5, 1)

	left := Combined(Combined(a, b), c)
	right := Combined(a, Combined(b, c))
	swapped := Combined(Combined(c, a), b)

	lv, _ := left.Value()
	rv, _ := right.Value()
	sv, _ := swapped.Value()
	assert.InDelta(t, lv, rv, 1e-12)
	assert.InDelta(t, lv, sv, 1e-12)
	assert.Equal(t, 8, left.Count())
}

func TestMean_JSON(t *testing.T) {
	b, err := json.Marshal(Mean{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":null,"count":0}`, string(b))

	m := NewMean(2.5, 4)
	b, err = json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":2.5,"count":4}`, string(b))

	var back Mean
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, m, back)
}

func TestNewMean_NonPositiveCount(t *testing.T) {
	_, ok := NewMean(5, 0).Value()
	assert.False(t, ok)
	assert.Nil(t, NewMean(5, -1).Ptr())
}
