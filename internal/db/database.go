package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// TripInterval is the gap between samples after which a new trip starts.
const TripInterval = 10 * time.Minute

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection and brings the schema up to date
// using the built-in migrations
func New(dbPath string) (*Database, error) {
	return Open(dbPath, "")
}

// Open is New with the migrations read from migrationsDir
func Open(dbPath, migrationsDir string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.MigrateUp(migrationsDir); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// InsertRoofAttachment adds a roof attachment and sets its ID
func (db *Database) InsertRoofAttachment(r *models.RoofAttachment) error {
	result, err := db.conn.Exec(
		`INSERT INTO roof_attachments (weight, drag_coeff, frontal_area) VALUES (?, ?, ?)`,
		r.Weight, r.DragCoeff, r.FrontalArea,
	)
	if err != nil {
		return err
	}
	r.ID, err = result.LastInsertId()
	return err
}

// GetRoofAttachment retrieves a roof attachment by ID
func (db *Database) GetRoofAttachment(id int64) (*models.RoofAttachment, error) {
	r := models.RoofAttachment{ID: id}
	err := db.conn.QueryRow(
		`SELECT weight, drag_coeff, frontal_area FROM roof_attachments WHERE id = ?`, id,
	).Scan(&r.Weight, &r.DragCoeff, &r.FrontalArea)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateTrip starts a new trip carrying the given load
func (db *Database) CreateTrip(ctx models.TripContext, now time.Time) (*models.Trip, error) {
	if ctx.RoofAtt != nil && ctx.RoofAtt.ID == 0 {
		if err := db.InsertRoofAttachment(ctx.RoofAtt); err != nil {
			return nil, fmt.Errorf("failed to insert roof attachment: %w", err)
		}
	}

	trip := &models.Trip{
		ID:        uuid.NewString(),
		Context:   ctx,
		CreatedAt: now.UTC(),
	}

	var roofID sql.NullInt64
	if ctx.RoofAtt != nil {
		roofID = sql.NullInt64{Int64: ctx.RoofAtt.ID, Valid: true}
	}

	_, err := db.conn.Exec(
		`INSERT INTO trips (id, passenger_cnt, cargo_weight, roof_att_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		trip.ID, ctx.Passengers, ctx.Cargo, roofID, trip.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return trip, nil
}

const tripColumns = `id, passenger_cnt, cargo_weight, roof_att_id, remote_id, created_at`

func (db *Database) scanTrip(row interface{ Scan(...any) error }) (*models.Trip, error) {
	var t models.Trip
	var roofID sql.NullInt64
	var remoteID sql.NullString

	if err := row.Scan(&t.ID, &t.Context.Passengers, &t.Context.Cargo, &roofID, &remoteID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.RemoteID = remoteID.String
	if roofID.Valid {
		roof, err := db.GetRoofAttachment(roofID.Int64)
		if err != nil {
			return nil, fmt.Errorf("failed to load roof attachment %d: %w", roofID.Int64, err)
		}
		t.Context.RoofAtt = roof
	}
	return &t, nil
}

// GetTrip retrieves a trip by ID
func (db *Database) GetTrip(id string) (*models.Trip, error) {
	row := db.conn.QueryRow(`SELECT `+tripColumns+` FROM trips WHERE id = ?`, id)
	t, err := db.scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTrips returns the most recently created trips first
func (db *Database) ListTrips(limit int) ([]models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}

	// Drain the rows before loading roof attachments; there is a single
	// connection in the pool.
	type pending struct {
		trip   models.Trip
		roofID sql.NullInt64
	}
	var list []pending
	for rows.Next() {
		var p pending
		var remoteID sql.NullString
		if err := rows.Scan(&p.trip.ID, &p.trip.Context.Passengers, &p.trip.Context.Cargo, &p.roofID, &remoteID, &p.trip.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		p.trip.RemoteID = remoteID.String
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	trips := make([]models.Trip, 0, len(list))
	for _, p := range list {
		if p.roofID.Valid {
			roof, err := db.GetRoofAttachment(p.roofID.Int64)
			if err != nil {
				return nil, err
			}
			p.trip.Context.RoofAtt = roof
		}
		trips = append(trips, p.trip)
	}
	return trips, nil
}

// CurrentTrip returns the trip of the most recent sample when that sample
// is less than TripInterval old, otherwise a new trip carrying load
func (db *Database) CurrentTrip(now time.Time, load models.TripContext) (*models.Trip, error) {
	var last time.Time
	var tripID string
	err := db.conn.QueryRow(`SELECT timestamp, trip_id FROM samples ORDER BY timestamp DESC LIMIT 1`).Scan(&last, &tripID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return db.CreateTrip(load, now)
	case err != nil:
		return nil, err
	case now.Sub(last) >= TripInterval:
		return db.CreateTrip(load, now)
	default:
		return db.GetTrip(tripID)
	}
}

// TripRemoteID returns the remote API id of a trip, empty if not uploaded
func (db *Database) TripRemoteID(tripID string) (string, error) {
	var remoteID sql.NullString
	err := db.conn.QueryRow(`SELECT remote_id FROM trips WHERE id = ?`, tripID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return remoteID.String, err
}

// SetTripRemoteID records the remote API id of a trip
func (db *Database) SetTripRemoteID(tripID, remoteID string) error {
	result, err := db.conn.Exec(`UPDATE trips SET remote_id = ? WHERE id = ?`, remoteID, tripID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const insertSampleSQL = `
	INSERT INTO samples
	(trip_id, timestamp, engine_on, speed, rpm, throttle, fuel_level,
	 altitude, latitude, longitude, gsi_indicating, speed_limit)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func sampleArgs(s *models.TelemetrySample) []any {
	var gsi sql.NullBool
	if s.GSIIndicating != nil {
		gsi = sql.NullBool{Bool: *s.GSIIndicating, Valid: true}
	}
	var limit sql.NullFloat64
	if s.SpeedLimit != nil {
		limit = sql.NullFloat64{Float64: *s.SpeedLimit, Valid: true}
	}
	return []any{
		s.TripID, s.Timestamp.UTC(), s.EngineOn, float64(s.Speed), s.EngineRPM, s.Throttle,
		s.FuelLevel, s.Altitude, s.Latitude, s.Longitude, gsi, limit,
	}
}

// InsertSample adds a single sample
func (db *Database) InsertSample(s *models.TelemetrySample) error {
	result, err := db.conn.Exec(insertSampleSQL, sampleArgs(s)...)
	if err != nil {
		return err
	}

	id, _ := result.LastInsertId()
	s.ID = id
	return nil
}

// InsertSamples efficiently inserts multiple samples
func (db *Database) InsertSamples(records []models.TelemetrySample) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for i := range records {
		if _, err := stmt.Exec(sampleArgs(&records[i])...); err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

const sampleColumns = `id, trip_id, timestamp, engine_on, speed, rpm, throttle, fuel_level,
	altitude, latitude, longitude, gsi_indicating, speed_limit`

func scanSamples(rows *sql.Rows) ([]models.TelemetrySample, error) {
	defer rows.Close()

	var results []models.TelemetrySample
	for rows.Next() {
		var s models.TelemetrySample
		var speed float64
		var gsi sql.NullBool
		var limit sql.NullFloat64

		err := rows.Scan(
			&s.ID, &s.TripID, &s.Timestamp, &s.EngineOn, &speed, &s.EngineRPM, &s.Throttle,
			&s.FuelLevel, &s.Altitude, &s.Latitude, &s.Longitude, &gsi, &limit,
		)
		if err != nil {
			return nil, err
		}
		s.Speed = units.Kmh(speed)
		if gsi.Valid {
			v := gsi.Bool
			s.GSIIndicating = &v
		}
		if limit.Valid {
			v := limit.Float64
			s.SpeedLimit = &v
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// TripSamples returns every sample of a trip in time order
func (db *Database) TripSamples(tripID string) ([]models.TelemetrySample, error) {
	rows, err := db.conn.Query(
		`SELECT `+sampleColumns+` FROM samples WHERE trip_id = ? ORDER BY timestamp ASC, id ASC`, tripID,
	)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

// QuerySamples retrieves samples based on query parameters, newest first
func (db *Database) QuerySamples(q models.SampleQuery) ([]models.TelemetrySample, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `SELECT ` + sampleColumns + ` FROM samples`

	if q.TripID != "" {
		conditions = append(conditions, "trip_id = ?")
		args = append(args, q.TripID)
	}
	if !q.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if !q.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, q.EndTime.UTC())
	}
	if q.MinSpeed > 0 {
		conditions = append(conditions, "speed >= ?")
		args = append(args, q.MinSpeed)
	}
	if q.MaxSpeed > 0 {
		conditions = append(conditions, "speed <= ?")
		args = append(args, q.MaxSpeed)
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY timestamp DESC"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			baseQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(baseQuery, args...)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

// TripIDsWithinDays returns the trips whose first sample falls between
// midnight days days before now and now, oldest first
func (db *Database) TripIDsWithinDays(now time.Time, days int) ([]string, error) {
	from := now.AddDate(0, 0, -days)
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())

	rows, err := db.conn.Query(
		`SELECT trip_id FROM trip_start_times WHERE start_time BETWEEN ? AND ? ORDER BY start_time ASC`,
		from.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalSamples int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM samples").Scan(&totalSamples); err != nil {
		return nil, err
	}
	stats["total_samples"] = totalSamples

	var totalTrips int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM trips").Scan(&totalTrips); err != nil {
		return nil, err
	}
	stats["total_trips"] = totalTrips

	var uploaded int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM trips WHERE remote_id IS NOT NULL AND remote_id != ''").Scan(&uploaded); err != nil {
		return nil, err
	}
	stats["uploaded_trips"] = uploaded

	return stats, nil
}
