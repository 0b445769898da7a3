// Package assistant runs the in-car eco-driving loop: read the vehicle,
// update the gear-shift indicator, record the drive, keep the rolling
// eco-driving score current and keep the screen up to date.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"eco-drive-assistant/internal/display"
	"eco-drive-assistant/internal/gsi"
	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/obd"
	"eco-drive-assistant/internal/performance"
)

// Store is the sample and trip store.
type Store interface {
	performance.TripSource
	performance.RemoteIDStore
	InsertSample(s *models.TelemetrySample) error
}

// Positioner reports the vehicle position at a point in time.
type Positioner interface {
	CoordinatesAt(t time.Time) models.Coordinates
}

// SpeedLimiter looks up the speed limit of the road between two positions.
type SpeedLimiter interface {
	Lookup(ctx context.Context, cur, prev models.Coordinates) (*float64, error)
}

// Remote is the scoring API.
type Remote interface {
	performance.Uploader
	LastCallSucceeded() bool
}

// Options sets how often the periodic work runs.
type Options struct {
	PersistInterval    time.Duration
	SpeedLimitInterval time.Duration
	FeedbackInterval   time.Duration
	WindowDays         int
}

// DefaultOptions records a sample a second, refreshes the speed limit every
// 3 seconds and rescores the last 30 days every minute.
func DefaultOptions() Options {
	return Options{
		PersistInterval:    time.Second,
		SpeedLimitInterval: 3 * time.Second,
		FeedbackInterval:   time.Minute,
		WindowDays:         performance.DefaultWindowDays,
	}
}

// Deps are the collaborators of the loop. GPS, Limits and Display may be
// nil.
type Deps struct {
	Source  obd.Source
	Store   Store
	GPS     Positioner
	Limits  SpeedLimiter
	Remote  Remote
	Display display.Display
}

// Assistant is the device loop for one trip.
type Assistant struct {
	deps      Deps
	opts      Options
	trip      *models.Trip
	predictor *gsi.Predictor

	prev        *models.TelemetrySample
	prevCoords  *models.Coordinates
	speedLimit  *float64
	lastLimit   time.Time
	lastPersist time.Time
	lastScore   time.Time

	mu     sync.RWMutex
	window *performance.FeedbackWindow
}

// New creates the loop for trip.
func New(deps Deps, trip *models.Trip, predictor *gsi.Predictor, opts Options) *Assistant {
	if opts.WindowDays <= 0 {
		opts.WindowDays = performance.DefaultWindowDays
	}
	return &Assistant{
		deps:      deps,
		opts:      opts,
		trip:      trip,
		predictor: predictor,
	}
}

// Trip returns the trip being recorded.
func (a *Assistant) Trip() *models.Trip {
	return a.trip
}

// Indicator returns the current gear-shift indicator state.
func (a *Assistant) Indicator() gsi.State {
	return a.predictor.State()
}

// Window returns the most recently scored feedback window, nil before the
// first scoring.
func (a *Assistant) Window() *performance.FeedbackWindow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.window
}

// Score returns the current eco-driving score, nil before the first
// scoring.
func (a *Assistant) Score() *int {
	w := a.Window()
	if w == nil {
		return nil
	}
	v := w.EcoDriving
	return &v
}

// Run reads the vehicle until it disconnects or ctx is cancelled, then
// records the engine stopping and rescores. A disconnect is a normal end.
func (a *Assistant) Run(ctx context.Context) error {
	log.Printf("Assistant: recording trip %s", a.trip.ID)

	var runErr error
	for {
		s, err := a.deps.Source.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, obd.ErrDisconnected):
				log.Println("Assistant: OBD-II disconnected")
			case ctx.Err() != nil:
				log.Println("Assistant: stopping")
			default:
				runErr = fmt.Errorf("failed to read vehicle: %w", err)
			}
			break
		}

		a.Step(ctx, s)
	}

	// ctx may already be cancelled; the final writes still need to happen.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.Finish(finalCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Step processes one sample from the vehicle.
func (a *Assistant) Step(ctx context.Context, s models.TelemetrySample) {
	ts := s.Timestamp
	s.TripID = a.trip.ID

	var coords models.Coordinates
	if a.deps.GPS != nil {
		coords = a.deps.GPS.CoordinatesAt(ts)
		s.Latitude = coords.Latitude
		s.Longitude = coords.Longitude
	}

	if a.prev != nil {
		a.predictor.Update(s, *a.prev)
	}

	if a.deps.Limits != nil && a.prevCoords != nil && due(a.lastLimit, ts, a.opts.SpeedLimitInterval) {
		limit, err := a.deps.Limits.Lookup(ctx, coords, *a.prevCoords)
		if err != nil {
			log.Printf("Speed limit lookup failed: %v", err)
		}
		a.speedLimit = limit
		a.lastLimit = ts
	}
	s.SpeedLimit = a.speedLimit

	if due(a.lastPersist, ts, a.opts.PersistInterval) {
		s.GSIIndicating = a.predictor.IsIndicating()
		if err := a.deps.Store.InsertSample(&s); err != nil {
			log.Printf("Error storing sample: %v", err)
		}
		a.lastPersist = ts
	}

	if due(a.lastScore, ts, a.opts.FeedbackInterval) {
		if err := a.refreshFeedback(ctx, ts); err != nil {
			log.Printf("Error updating feedback: %v", err)
		}
		a.lastScore = ts
	}

	a.show(ts)

	a.prev = &s
	a.prevCoords = &coords
}

// due reports whether interval has passed since last. Work that has never
// run is always due.
func due(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= interval
}

// Finish records the engine stopping at the last sample and rescores so
// the remote API sees the complete trip.
func (a *Assistant) Finish(ctx context.Context) error {
	if a.prev == nil {
		return nil
	}

	final := *a.prev
	final.ID = 0
	final.EngineOn = false
	final.GSIIndicating = nil
	final.SpeedLimit = a.speedLimit
	if err := a.deps.Store.InsertSample(&final); err != nil {
		return fmt.Errorf("failed to store engine off sample: %w", err)
	}

	if err := a.refreshFeedback(ctx, final.Timestamp); err != nil {
		return err
	}
	a.show(final.Timestamp)
	return nil
}

// refreshFeedback rescores the window ending at now and uploads the
// current trip and the new scores.
func (a *Assistant) refreshFeedback(ctx context.Context, now time.Time) error {
	w, trips, err := performance.LoadFeedbackWindow(a.deps.Store, now, a.opts.WindowDays)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.window = w
	a.mu.Unlock()

	if a.deps.Remote == nil {
		return nil
	}

	for _, t := range trips {
		if t.TripID != a.trip.ID {
			continue
		}
		if err := performance.SyncTrip(ctx, a.deps.Store, a.deps.Remote, t); err != nil {
			log.Printf("Error uploading trip %s: %v", t.TripID, err)
		}
	}

	if err := performance.SyncScores(ctx, a.deps.Remote, w, now); err != nil {
		log.Printf("Error uploading scores: %v", err)
	}
	return nil
}

func (a *Assistant) show(at time.Time) {
	if a.deps.Display == nil {
		return
	}
	online := true
	if a.deps.Remote != nil {
		online = a.deps.Remote.LastCallSucceeded()
	}
	a.deps.Display.Show(display.NewSnapshot(at, a.predictor.State(), a.Score(), online))
}
