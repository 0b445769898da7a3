package db

import (
	"path/filepath"
	"testing"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2022, 2, 1, 8, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sample(tripID string, at time.Time, kmh float64) models.TelemetrySample {
	return models.TelemetrySample{
		TripID:    tripID,
		Timestamp: at,
		EngineOn:  true,
		Speed:     units.Kmh(kmh),
		EngineRPM: 1500,
		Throttle:  20,
		FuelLevel: 55,
		Altitude:  12.5,
		Latitude:  52.2,
		Longitude: 0.12,
	}
}

func TestNewRunsMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp(""))
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown(""))
	version, _, err := db.MigrateVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp(""))
	version, _, err = db.MigrateVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestCreateAndGetTrip(t *testing.T) {
	db := newTestDB(t)

	roof := &models.RoofAttachment{Weight: 250, DragCoeff: 0.2, FrontalArea: 0.5}
	trip, err := db.CreateTrip(models.TripContext{Passengers: 2, Cargo: 750, RoofAtt: roof}, epoch)
	require.NoError(t, err)
	assert.NotEmpty(t, trip.ID)
	assert.NotZero(t, roof.ID)

	got, err := db.GetTrip(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.ID, got.ID)
	assert.Equal(t, 2, got.Context.Passengers)
	assert.Equal(t, 750.0, got.Context.Cargo)
	require.NotNil(t, got.Context.RoofAtt)
	assert.Equal(t, *roof, *got.Context.RoofAtt)
	assert.True(t, epoch.Equal(got.CreatedAt))
	assert.Empty(t, got.RemoteID)
}

func TestGetTripNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetTrip("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.TripRemoteID("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.SetTripRemoteID("missing", "r1"), ErrNotFound)
}

func TestListTrips(t *testing.T) {
	db := newTestDB(t)

	first, err := db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)
	second, err := db.CreateTrip(models.TripContext{
		RoofAtt: &models.RoofAttachment{Weight: 10, DragCoeff: 0.1, FrontalArea: 0.2},
	}, epoch.Add(time.Hour))
	require.NoError(t, err)

	trips, err := db.ListTrips(0)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, second.ID, trips[0].ID)
	assert.NotNil(t, trips[0].Context.RoofAtt)
	assert.Equal(t, first.ID, trips[1].ID)
	assert.Nil(t, trips[1].Context.RoofAtt)

	trips, err = db.ListTrips(1)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestRemoteID(t *testing.T) {
	db := newTestDB(t)

	trip, err := db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)

	id, err := db.TripRemoteID(trip.ID)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, db.SetTripRemoteID(trip.ID, "remote-7"))
	id, err = db.TripRemoteID(trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-7", id)
}

func TestInsertAndReadSamples(t *testing.T) {
	db := newTestDB(t)

	trip, err := db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)

	indicating := true
	limit := 48.0
	s := sample(trip.ID, epoch.Add(2*time.Second), 30)
	s.GSIIndicating = &indicating
	s.SpeedLimit = &limit
	require.NoError(t, db.InsertSample(&s))
	assert.NotZero(t, s.ID)

	n, err := db.InsertSamples([]models.TelemetrySample{
		sample(trip.ID, epoch, 0),
		sample(trip.ID, epoch.Add(time.Second), 10),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := db.TripSamples(trip.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, epoch.Equal(got[0].Timestamp))
	assert.Equal(t, units.Kmh(0), got[0].Speed)
	assert.Nil(t, got[0].GSIIndicating)
	assert.Nil(t, got[0].SpeedLimit)

	last := got[2]
	assert.True(t, epoch.Add(2*time.Second).Equal(last.Timestamp))
	assert.Equal(t, units.Kmh(30), last.Speed)
	assert.Equal(t, trip.ID, last.TripID)
	assert.True(t, last.EngineOn)
	assert.Equal(t, 1500.0, last.EngineRPM)
	require.NotNil(t, last.GSIIndicating)
	assert.True(t, *last.GSIIndicating)
	require.NotNil(t, last.SpeedLimit)
	assert.Equal(t, 48.0, *last.SpeedLimit)
}

func TestQuerySamples(t *testing.T) {
	db := newTestDB(t)

	trip, err := db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)
	other, err := db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)

	_, err = db.InsertSamples([]models.TelemetrySample{
		sample(trip.ID, epoch, 0),
		sample(trip.ID, epoch.Add(time.Second), 20),
		sample(trip.ID, epoch.Add(2*time.Second), 40),
		sample(other.ID, epoch.Add(3*time.Second), 60),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query models.SampleQuery
		want  []float64
	}{
		{"all newest first", models.SampleQuery{}, []float64{60, 40, 20, 0}},
		{"by trip", models.SampleQuery{TripID: trip.ID}, []float64{40, 20, 0}},
		{"speed range", models.SampleQuery{MinSpeed: 10, MaxSpeed: 50}, []float64{40, 20}},
		{"time range", models.SampleQuery{StartTime: epoch.Add(time.Second), EndTime: epoch.Add(2 * time.Second)}, []float64{40, 20}},
		{"paged", models.SampleQuery{Limit: 2, Offset: 1}, []float64{40, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.QuerySamples(tt.query)
			require.NoError(t, err)

			var speeds []float64
			for _, s := range got {
				speeds = append(speeds, float64(s.Speed))
			}
			assert.Equal(t, tt.want, speeds)
		})
	}
}

func TestCurrentTrip(t *testing.T) {
	db := newTestDB(t)

	load := models.TripContext{Passengers: 1, Cargo: 20}
	first, err := db.CurrentTrip(epoch, load)
	require.NoError(t, err)
	assert.Equal(t, load, first.Context)

	// No samples yet: each call starts a new trip.
	again, err := db.CurrentTrip(epoch, load)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)

	s := sample(again.ID, epoch, 30)
	require.NoError(t, db.InsertSample(&s))

	reused, err := db.CurrentTrip(epoch.Add(TripInterval-time.Second), load)
	require.NoError(t, err)
	assert.Equal(t, again.ID, reused.ID)

	fresh, err := db.CurrentTrip(epoch.Add(TripInterval), models.TripContext{})
	require.NoError(t, err)
	assert.NotEqual(t, again.ID, fresh.ID)
}

func TestTripIDsWithinDays(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2022, 3, 3, 12, 0, 0, 0, time.UTC)

	starts := []time.Time{
		time.Date(2022, 1, 31, 23, 59, 0, 0, time.UTC), // before the window
		time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC),    // midnight 30 days ago
		time.Date(2022, 2, 20, 9, 0, 0, 0, time.UTC),
		time.Date(2022, 3, 3, 11, 0, 0, 0, time.UTC),
		time.Date(2022, 3, 3, 13, 0, 0, 0, time.UTC), // after now
	}

	var ids []string
	for _, start := range starts {
		trip, err := db.CreateTrip(models.TripContext{}, start)
		require.NoError(t, err)
		_, err = db.InsertSamples([]models.TelemetrySample{
			sample(trip.ID, start, 0),
			sample(trip.ID, start.Add(time.Minute), 30),
		})
		require.NoError(t, err)
		ids = append(ids, trip.ID)
	}

	// A trip without samples has no start time.
	_, err := db.CreateTrip(models.TripContext{}, now)
	require.NoError(t, err)

	got, err := db.TripIDsWithinDays(now, 30)
	require.NoError(t, err)
	assert.Equal(t, ids[1:4], got)
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)

	trip, err := db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)
	_, err = db.CreateTrip(models.TripContext{}, epoch)
	require.NoError(t, err)
	require.NoError(t, db.SetTripRemoteID(trip.ID, "r1"))
	s := sample(trip.ID, epoch, 10)
	require.NoError(t, db.InsertSample(&s))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["total_samples"])
	assert.Equal(t, int64(2), stats["total_trips"])
	assert.Equal(t, int64(1), stats["uploaded_trips"])
}
