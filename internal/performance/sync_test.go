package performance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eco-drive-assistant/internal/models"
)

type fakeSource struct {
	ids     []string
	samples map[string][]models.TelemetrySample
	err     error
}

func (f *fakeSource) TripIDsWithinDays(now time.Time, days int) ([]string, error) {
	return f.ids, f.err
}

func (f *fakeSource) TripSamples(id string) ([]models.TelemetrySample, error) {
	s, ok := f.samples[id]
	if !ok {
		return nil, errors.New("no such trip")
	}
	return s, nil
}

type fakeRemoteIDs map[string]string

func (f fakeRemoteIDs) TripRemoteID(id string) (string, error) { return f[id], nil }
func (f fakeRemoteIDs) SetTripRemoteID(id, remote string) error {
	f[id] = remote
	return nil
}

type fakeUploader struct {
	created []models.TripMetrics
	updated map[string]models.TripMetrics
	scores  []models.ScoreReport
	newID   string
	err     error
}

func (f *fakeUploader) CreateTrip(_ context.Context, m models.TripMetrics) (string, error) {
	f.created = append(f.created, m)
	return f.newID, f.err
}

func (f *fakeUploader) UpdateTrip(_ context.Context, id string, m models.TripMetrics) error {
	if f.updated == nil {
		f.updated = map[string]models.TripMetrics{}
	}
	f.updated[id] = m
	return f.err
}

func (f *fakeUploader) SubmitScores(_ context.Context, r models.ScoreReport) error {
	f.scores = append(f.scores, r)
	return f.err
}

func TestLoadFeedbackWindow(t *testing.T) {
	src := &fakeSource{
		ids:     []string{"a", "b"},
		samples: map[string][]models.TelemetrySample{"a": baseTrip(), "b": secondTrip()},
	}

	w, trips, err := LoadFeedbackWindow(src, epoch, DefaultWindowDays)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, "a", trips[0].TripID)
	assert.Equal(t, 56, w.EcoDriving)
	assert.Equal(t, 28, w.SampleCount)
}

func TestLoadFeedbackWindow_Errors(t *testing.T) {
	_, _, err := LoadFeedbackWindow(&fakeSource{err: errors.New("boom")}, epoch, 30)
	assert.Error(t, err)

	_, _, err = LoadFeedbackWindow(&fakeSource{ids: []string{"missing"}}, epoch, 30)
	assert.ErrorContains(t, err, "missing")
}

func TestSyncTrip_CreatesThenUpdates(t *testing.T) {
	ids := fakeRemoteIDs{}
	up := &fakeUploader{newID: "remote-1"}
	tp := NewTripPerformance("a", baseTrip())

	require.NoError(t, SyncTrip(context.Background(), ids, up, tp))
	require.Len(t, up.created, 1)
	assert.Equal(t, "remote-1", ids["a"])
	assert.Equal(t, int64(15), up.created[0].IdleSecs)

	require.NoError(t, SyncTrip(context.Background(), ids, up, tp))
	assert.Len(t, up.created, 1)
	assert.Contains(t, up.updated, "remote-1")
}

func TestSyncTrip_InsufficientData(t *testing.T) {
	ids := fakeRemoteIDs{}
	up := &fakeUploader{newID: "x"}
	tp := NewTripPerformance("a", samples(row{0, 0, true, nil, nil}, row{1, 10, true, no, nil}))

	require.NoError(t, SyncTrip(context.Background(), ids, up, tp))
	assert.Empty(t, up.created)
	assert.Empty(t, ids)
}

func TestSyncTrip_CreateWithoutID(t *testing.T) {
	ids := fakeRemoteIDs{}
	up := &fakeUploader{}

	require.NoError(t, SyncTrip(context.Background(), ids, up, NewTripPerformance("a", baseTrip())))
	assert.Len(t, up.created, 1)
	assert.Empty(t, ids)
}

func TestSyncTrip_CreateError(t *testing.T) {
	ids := fakeRemoteIDs{}
	up := &fakeUploader{newID: "r", err: errors.New("offline")}

	err := SyncTrip(context.Background(), ids, up, NewTripPerformance("a", baseTrip()))
	assert.Error(t, err)
	assert.Empty(t, ids)
}

func TestSyncScores(t *testing.T) {
	up := &fakeUploader{}

	require.NoError(t, SyncScores(context.Background(), up, NewFeedbackWindow(), epoch))
	assert.Empty(t, up.scores, "empty windows are not uploaded")

	w := NewFeedbackWindow(NewTripPerformance("a", baseTrip()))
	require.NoError(t, SyncScores(context.Background(), up, w, epoch))
	require.Len(t, up.scores, 1)
	assert.Equal(t, w.EcoDriving, up.scores[0].EcoDriving)
}
