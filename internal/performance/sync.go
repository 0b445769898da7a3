package performance

import (
	"context"
	"fmt"
	"log"
	"time"

	"eco-drive-assistant/internal/models"
)

// MinUploadSamples is the smallest sample count worth uploading.
const MinUploadSamples = 2

// TripSource supplies stored trips.
type TripSource interface {
	TripIDsWithinDays(now time.Time, days int) ([]string, error)
	TripSamples(tripID string) ([]models.TelemetrySample, error)
}

// RemoteIDStore remembers which remote trip a local trip was uploaded as.
type RemoteIDStore interface {
	TripRemoteID(tripID string) (string, error)
	SetTripRemoteID(tripID, remoteID string) error
}

// Uploader is the remote scoring API.
type Uploader interface {
	CreateTrip(ctx context.Context, m models.TripMetrics) (string, error)
	UpdateTrip(ctx context.Context, remoteID string, m models.TripMetrics) error
	SubmitScores(ctx context.Context, r models.ScoreReport) error
}

// LoadFeedbackWindow builds the scored window of trips started in the last
// days days. The per-trip results are returned alongside so the caller can
// upload the current trip.
func LoadFeedbackWindow(src TripSource, now time.Time, days int) (*FeedbackWindow, []*TripPerformance, error) {
	ids, err := src.TripIDsWithinDays(now, days)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list trips: %w", err)
	}

	w := &FeedbackWindow{}
	trips := make([]*TripPerformance, 0, len(ids))
	for _, id := range ids {
		samples, err := src.TripSamples(id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load samples for trip %s: %w", id, err)
		}
		t := NewTripPerformance(id, samples)
		w.AddTrip(t)
		trips = append(trips, t)
	}
	w.Score()

	return w, trips, nil
}

// SyncTrip uploads a trip's metrics, creating the remote trip on first
// upload. Trips with too little data are skipped.
func SyncTrip(ctx context.Context, store RemoteIDStore, up Uploader, t *TripPerformance) error {
	if t.SampleCount < MinUploadSamples {
		return nil
	}

	remoteID, err := store.TripRemoteID(t.TripID)
	if err != nil {
		return fmt.Errorf("failed to get remote id: %w", err)
	}

	metrics := t.Metrics()
	if remoteID != "" {
		return up.UpdateTrip(ctx, remoteID, metrics)
	}

	remoteID, err = up.CreateTrip(ctx, metrics)
	if err != nil {
		return err
	}
	if remoteID == "" {
		return nil
	}

	log.Printf("Trip %s uploaded as %s", t.TripID, remoteID)
	return store.SetTripRemoteID(t.TripID, remoteID)
}

// SyncScores uploads the window's scores. Windows with too little data are
// skipped.
func SyncScores(ctx context.Context, up Uploader, w *FeedbackWindow, now time.Time) error {
	if w.SampleCount < MinUploadSamples {
		return nil
	}
	return up.SubmitScores(ctx, w.Report(now))
}
