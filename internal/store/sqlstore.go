package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fleetwatch/internal/domain"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .fleetwatch) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// Case transitions and slot reservations do read-modify-write; a single
	// connection keeps them serialized without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersionV1); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersionV1 {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the underlying database.
func (s *SqlStore) Close() error { return s.db.Close() }

// --- Vehicles ---

func (s *SqlStore) UpsertVehicle(v *domain.Vehicle) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("upsert vehicle: missing id")
	}
	cp := *v
	cp.ID = strings.ToUpper(cp.ID)
	payload, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal vehicle: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO vehicles(vehicle_id, payload) VALUES(?, ?)
		 ON CONFLICT(vehicle_id) DO UPDATE SET payload=excluded.payload`,
		cp.ID, string(payload))
	if err != nil {
		return fmt.Errorf("upsert vehicle %s: %w", cp.ID, err)
	}
	return nil
}

func (s *SqlStore) GetVehicle(id string) (*domain.Vehicle, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM vehicles WHERE vehicle_id=?", strings.ToUpper(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	var v domain.Vehicle
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("decode vehicle %s: %w", id, err)
	}
	return &v, nil
}

func (s *SqlStore) ListVehicles() ([]*domain.Vehicle, error) {
	rows, err := s.db.Query("SELECT payload FROM vehicles ORDER BY vehicle_id")
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()
	var out []*domain.Vehicle
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		var v domain.Vehicle
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode vehicle: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// --- Telemetry ---

func (s *SqlStore) InsertTelemetry(rows []domain.TelemetryRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin telemetry insert: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(
		"INSERT INTO vehicle_telemetry(vehicle_id, row_index, timestamp, sensors) VALUES(?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare telemetry insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		sensors, err := json.Marshal(r.Sensors)
		if err != nil {
			return fmt.Errorf("marshal sensors: %w", err)
		}
		if _, err := stmt.Exec(r.VehicleID, r.RowIndex, r.Timestamp.UTC().Format(time.RFC3339Nano), string(sensors)); err != nil {
			return fmt.Errorf("insert telemetry %s/%d: %w", r.VehicleID, r.RowIndex, err)
		}
	}
	return tx.Commit()
}

func (s *SqlStore) TelemetryUpTo(vehicleID string, maxRowIndex int) ([]domain.TelemetryRow, error) {
	rows, err := s.db.Query(
		`SELECT row_index, timestamp, sensors FROM vehicle_telemetry
		 WHERE vehicle_id=? AND row_index<=? ORDER BY row_index ASC`,
		vehicleID, maxRowIndex)
	if err != nil {
		return nil, fmt.Errorf("query telemetry %s: %w", vehicleID, err)
	}
	defer rows.Close()
	var out []domain.TelemetryRow
	for rows.Next() {
		var (
			idx     int
			ts      string
			sensors string
		)
		if err := rows.Scan(&idx, &ts, &sensors); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse telemetry timestamp: %w", err)
		}
		r := domain.TelemetryRow{VehicleID: vehicleID, RowIndex: idx, Timestamp: t}
		if err := json.Unmarshal([]byte(sensors), &r.Sensors); err != nil {
			return nil, fmt.Errorf("decode sensors: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) TelemetryCount(vehicleID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM vehicle_telemetry WHERE vehicle_id=?", vehicleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count telemetry %s: %w", vehicleID, err)
	}
	return n, nil
}

// --- Predictions ---

func (s *SqlStore) SavePrediction(ev *domain.PredictionEvent) (int64, error) {
	if ev == nil {
		return 0, fmt.Errorf("save prediction: nil event")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(&ev.Outcome)
	if err != nil {
		return 0, fmt.Errorf("marshal outcome: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO prediction_events(vehicle_id, prediction_type, eta_days, confidence, row_index, sim_day, created_at, payload)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Outcome.VehicleID, string(ev.Outcome.PredictionType), ev.Outcome.EtaDays, ev.Outcome.Confidence,
		ev.RowIndex, ev.SimDay, ev.CreatedAt.Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return 0, fmt.Errorf("insert prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("prediction id: %w", err)
	}
	ev.ID = id
	return id, nil
}

func (s *SqlStore) GetPrediction(id int64) (*domain.PredictionEvent, error) {
	var (
		rowIndex, simDay int
		created, payload string
	)
	err := s.db.QueryRow(
		"SELECT row_index, sim_day, created_at, payload FROM prediction_events WHERE id=?", id,
	).Scan(&rowIndex, &simDay, &created, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction %d: %w", id, err)
	}
	return scanPrediction(id, rowIndex, simDay, created, payload)
}

func (s *SqlStore) ListPredictionsByVehicle(vehicleID string, limit int) ([]*domain.PredictionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, row_index, sim_day, created_at, payload FROM prediction_events
		 WHERE vehicle_id=? ORDER BY created_at DESC LIMIT ?`, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list predictions %s: %w", vehicleID, err)
	}
	defer rows.Close()
	var out []*domain.PredictionEvent
	for rows.Next() {
		var (
			id               int64
			rowIndex, simDay int
			created, payload string
		)
		if err := rows.Scan(&id, &rowIndex, &simDay, &created, &payload); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		ev, err := scanPrediction(id, rowIndex, simDay, created, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanPrediction(id int64, rowIndex, simDay int, created, payload string) (*domain.PredictionEvent, error) {
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse prediction created_at: %w", err)
	}
	ev := &domain.PredictionEvent{ID: id, RowIndex: rowIndex, SimDay: simDay, CreatedAt: t}
	if err := json.Unmarshal([]byte(payload), &ev.Outcome); err != nil {
		return nil, fmt.Errorf("decode prediction %d: %w", id, err)
	}
	return ev, nil
}

// --- Cases ---

func (s *SqlStore) CreateCase(c *domain.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("create case: missing id")
	}
	now := time.Now().UTC()
	cp := *c
	if cp.CurrentState == "" {
		cp.CurrentState = domain.StateReceived
	}
	if cp.Severity == "" {
		cp.Severity = domain.SeverityUnknown
	}
	if len(cp.History) == 0 {
		cp.History = []domain.HistoryEntry{{State: cp.CurrentState, Timestamp: now, Note: "case opened"}}
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now

	agents, history, related, metadata, err := marshalCaseParts(&cp)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO cases(case_id, vehicle_id, prediction_id, current_state, severity, prediction_type,
		                   agent_results, metadata, history, related, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.VehicleID, cp.PredictionID, string(cp.CurrentState), string(cp.Severity),
		string(cp.Metadata.PredictionType), agents, metadata, history, related,
		cp.CreatedAt.Format(time.RFC3339Nano), cp.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("create case %s: %w", cp.ID, ErrConflict)
		}
		return fmt.Errorf("create case %s: %w", cp.ID, err)
	}
	*c = cp
	return nil
}

func (s *SqlStore) GetCase(caseID string) (*domain.Case, error) {
	row := s.db.QueryRow(
		`SELECT case_id, vehicle_id, prediction_id, current_state, severity,
		        agent_results, metadata, history, related, created_at, updated_at
		 FROM cases WHERE case_id=?`, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SqlStore) FindActiveCase(vehicleID string, pt domain.PredictionType) (*domain.Case, error) {
	row := s.db.QueryRow(
		`SELECT case_id, vehicle_id, prediction_id, current_state, severity,
		        agent_results, metadata, history, related, created_at, updated_at
		 FROM cases
		 WHERE vehicle_id=? AND prediction_type=? AND current_state NOT IN (?, ?, ?)
		 ORDER BY created_at ASC LIMIT 1`,
		vehicleID, string(pt),
		string(domain.StateCompleted), string(domain.StateFailed), string(domain.StateCancelled))
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanCase(row rowScanner) (*domain.Case, error) {
	var (
		c                                  domain.Case
		state, severity                    string
		agents, metadata, history, related string
		created, updated                   string
	)
	err := row.Scan(&c.ID, &c.VehicleID, &c.PredictionID, &state, &severity,
		&agents, &metadata, &history, &related, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.CurrentState = domain.CaseState(state)
	c.Severity = domain.Severity(severity)
	if err := json.Unmarshal([]byte(agents), &c.AgentResults); err != nil {
		return nil, fmt.Errorf("decode agent results: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode case metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &c.History); err != nil {
		return nil, fmt.Errorf("decode case history: %w", err)
	}
	if err := json.Unmarshal([]byte(related), &c.RelatedPredictions); err != nil {
		return nil, fmt.Errorf("decode related predictions: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse case created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse case updated_at: %w", err)
	}
	return &c, nil
}

// mutateCase loads a case inside a transaction, applies fn, and writes the
// mutable columns back. The history append and state column change commit
// together, which keeps invariant "current_state == last history entry".
func (s *SqlStore) mutateCase(caseID string, fn func(c *domain.Case) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin case mutation: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT case_id, vehicle_id, prediction_id, current_state, severity,
		        agent_results, metadata, history, related, created_at, updated_at
		 FROM cases WHERE case_id=?`, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load case %s: %w", caseID, err)
	}

	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	agents, history, related, metadata, err := marshalCaseParts(c)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE cases SET current_state=?, severity=?, agent_results=?, metadata=?, history=?, related=?, updated_at=?
		 WHERE case_id=?`,
		string(c.CurrentState), string(c.Severity), agents, metadata, history, related,
		c.UpdatedAt.Format(time.RFC3339Nano), c.ID)
	if err != nil {
		return fmt.Errorf("update case %s: %w", caseID, err)
	}
	return tx.Commit()
}

func marshalCaseParts(c *domain.Case) (agents, history, related, metadata string, err error) {
	a := c.AgentResults
	if a == nil {
		a = map[string]json.RawMessage{}
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal agent results: %w", err)
	}
	hb, err := json.Marshal(c.History)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal history: %w", err)
	}
	r := c.RelatedPredictions
	if r == nil {
		r = []int64{}
	}
	rb, err := json.Marshal(r)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal related predictions: %w", err)
	}
	mb, err := json.Marshal(&c.Metadata)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(ab), string(hb), string(rb), string(mb), nil
}

func (s *SqlStore) TransitionCase(caseID string, next domain.CaseState, note string) error {
	return s.mutateCase(caseID, func(c *domain.Case) error {
		return applyTransition(c, next, note)
	})
}

func applyTransition(c *domain.Case, next domain.CaseState, note string) error {
	if !c.CurrentState.CanTransition(next) {
		return fmt.Errorf("case %s: %s -> %s: %w", c.ID, c.CurrentState, next, ErrInvalidTransition)
	}
	c.History = append(c.History, domain.HistoryEntry{State: next, Timestamp: time.Now().UTC(), Note: note})
	c.CurrentState = next
	return nil
}

func (s *SqlStore) SetCaseSeverity(caseID string, sev domain.Severity) error {
	return s.mutateCase(caseID, func(c *domain.Case) error {
		if sev.Rank() < c.Severity.Rank() {
			return nil
		}
		c.Severity = sev
		return nil
	})
}

func (s *SqlStore) SetAgentResult(caseID, stage string, result json.RawMessage) error {
	return s.mutateCase(caseID, func(c *domain.Case) error {
		if c.AgentResults == nil {
			c.AgentResults = make(map[string]json.RawMessage)
		}
		c.AgentResults[stage] = append(json.RawMessage(nil), result...)
		return nil
	})
}

func (s *SqlStore) AttachPrediction(caseID string, predictionID int64) error {
	ev, err := s.GetPrediction(predictionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.mutateCase(caseID, func(c *domain.Case) error {
		c.RelatedPredictions = append(c.RelatedPredictions, predictionID)
		c.Metadata.RelatedCount = len(c.RelatedPredictions)
		if ev != nil {
			c.Metadata.EtaDays = ev.Outcome.EtaDays
			c.Metadata.Confidence = ev.Outcome.Confidence
		}
		return nil
	})
}

func (s *SqlStore) FailCase(caseID, stage, reason string) error {
	return s.mutateCase(caseID, func(c *domain.Case) error {
		c.Metadata.FailedStage = stage
		c.Metadata.FailureReason = reason
		return applyTransition(c, domain.StateFailed, fmt.Sprintf("stage %s: %s", stage, reason))
	})
}

func (s *SqlStore) CaseStatsByState() (map[domain.CaseState]int, error) {
	rows, err := s.db.Query("SELECT current_state, COUNT(*) FROM cases GROUP BY current_state")
	if err != nil {
		return nil, fmt.Errorf("case stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[domain.CaseState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan case stats: %w", err)
		}
		stats[domain.CaseState(state)] = n
	}
	return stats, rows.Err()
}

func (s *SqlStore) ListCases(limit int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT case_id, vehicle_id, prediction_id, current_state, severity,
		        agent_results, metadata, history, related, created_at, updated_at
		 FROM cases ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	var out []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Service centers ---

func (s *SqlStore) UpsertCenter(c *domain.ServiceCenter) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("upsert center: missing id")
	}
	// Slots live in their own table; the payload carries everything else.
	cp := *c
	slots := cp.Slots
	cp.Slots = nil
	payload, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal center: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin center upsert: %w", err)
	}
	defer tx.Rollback()

	active := 0
	if c.Active {
		active = 1
	}
	_, err = tx.Exec(
		`INSERT INTO service_centers(center_id, active, lon, lat, payload) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(center_id) DO UPDATE SET active=excluded.active, lon=excluded.lon, lat=excluded.lat, payload=excluded.payload`,
		c.ID, active, c.Location.Lon, c.Location.Lat, string(payload))
	if err != nil {
		return fmt.Errorf("upsert center %s: %w", c.ID, err)
	}
	for _, sl := range slots {
		status := sl.Status
		if status == "" {
			status = domain.SlotAvailable
		}
		_, err = tx.Exec(
			`INSERT INTO center_slots(center_id, date, band, status, case_id, vehicle_id) VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(center_id, date, band) DO UPDATE SET status=excluded.status`,
			c.ID, sl.Date, sl.Band, string(status), sl.CaseID, sl.VehicleID)
		if err != nil {
			return fmt.Errorf("upsert slot %s %s/%s: %w", c.ID, sl.Date, sl.Band, err)
		}
	}
	return tx.Commit()
}

func (s *SqlStore) GetCenter(centerID string) (*domain.ServiceCenter, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM service_centers WHERE center_id=?", centerID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get center %s: %w", centerID, err)
	}
	var c domain.ServiceCenter
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode center %s: %w", centerID, err)
	}
	if err := s.loadSlots(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SqlStore) loadSlots(c *domain.ServiceCenter) error {
	rows, err := s.db.Query(
		"SELECT date, band, status, case_id, vehicle_id FROM center_slots WHERE center_id=? ORDER BY date, band",
		c.ID)
	if err != nil {
		return fmt.Errorf("load slots %s: %w", c.ID, err)
	}
	defer rows.Close()
	c.Slots = nil
	for rows.Next() {
		var (
			sl            domain.Slot
			status        string
			caseID, vehID sql.NullString
		)
		if err := rows.Scan(&sl.Date, &sl.Band, &status, &caseID, &vehID); err != nil {
			return fmt.Errorf("scan slot: %w", err)
		}
		sl.Status = domain.SlotStatus(status)
		sl.CaseID = nullStr(caseID)
		sl.VehicleID = nullStr(vehID)
		c.Slots = append(c.Slots, sl)
	}
	return rows.Err()
}

// ListActiveCenters returns active centers in id order. limit <= 0 means
// no limit.
func (s *SqlStore) ListActiveCenters(limit int) ([]*domain.ServiceCenter, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT disables the cap
	}
	rows, err := s.db.Query(
		"SELECT payload FROM service_centers WHERE active=1 ORDER BY center_id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer rows.Close()
	var out []*domain.ServiceCenter
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan center: %w", err)
		}
		var c domain.ServiceCenter
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode center: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range out {
		if err := s.loadSlots(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NearestCenters filters active centers by Haversine distance in process.
// SQLite has no 2dsphere index; the fleet-scale center count makes a scan
// plus sort acceptable here.
func (s *SqlStore) NearestCenters(loc domain.GeoPoint, radiusKM float64, limit int) ([]*domain.ServiceCenter, error) {
	all, err := s.ListActiveCenters(0)
	if err != nil {
		return nil, err
	}
	type scored struct {
		c *domain.ServiceCenter
		d float64
	}
	var hits []scored
	for _, c := range all {
		d := loc.DistanceKM(c.Location)
		if d <= radiusKM {
			hits = append(hits, scored{c, d})
		}
	}
	// Deterministic: distance, then id.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].d != hits[j].d {
			return hits[i].d < hits[j].d
		}
		return hits[i].c.ID < hits[j].c.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*domain.ServiceCenter, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out, nil
}

// ReserveSlot books a slot with a compare-and-set on status=available.
func (s *SqlStore) ReserveSlot(centerID, date, band, caseID, vehicleID string) error {
	res, err := s.db.Exec(
		`UPDATE center_slots SET status=?, case_id=?, vehicle_id=?
		 WHERE center_id=? AND date=? AND band=? AND status=?`,
		string(domain.SlotBooked), caseID, vehicleID,
		centerID, date, band, string(domain.SlotAvailable))
	if err != nil {
		return fmt.Errorf("reserve slot %s %s/%s: %w", centerID, date, band, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve slot rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reserve slot %s %s/%s: %w", centerID, date, band, ErrSlotTaken)
	}
	return nil
}

func (s *SqlStore) ReleaseSlot(centerID, date, band string) error {
	res, err := s.db.Exec(
		`UPDATE center_slots SET status=?, case_id=NULL, vehicle_id=NULL
		 WHERE center_id=? AND date=? AND band=?`,
		string(domain.SlotAvailable), centerID, date, band)
	if err != nil {
		return fmt.Errorf("release slot %s %s/%s: %w", centerID, date, band, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release slot rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("release slot %s %s/%s: %w", centerID, date, band, ErrNotFound)
	}
	return nil
}

// --- Profiles ---

func (s *SqlStore) UpsertProfile(p *domain.UserProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("upsert profile: missing id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO user_profiles(user_id, payload) VALUES(?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET payload=excluded.payload`,
		p.UserID, string(payload))
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SqlStore) GetProfile(userID string) (*domain.UserProfile, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM user_profiles WHERE user_id=?", userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	var p domain.UserProfile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &p, nil
}
