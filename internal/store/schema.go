package store

// schemaVersionV1 is the current schema generation.
const schemaVersionV1 = 1

// schemaV1 creates all collections the control plane needs. Nested documents
// (sensor maps, agent results, history) are stored as JSON text; slots get
// their own table so reservations can be a single compare-and-set UPDATE.
const schemaV1 = `
CREATE TABLE schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE vehicles (
	vehicle_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL
);

CREATE TABLE vehicle_telemetry (
	vehicle_id TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	timestamp  TEXT NOT NULL,
	sensors    TEXT NOT NULL,
	PRIMARY KEY (vehicle_id, row_index)
);
CREATE INDEX idx_telemetry_vehicle_ts ON vehicle_telemetry(vehicle_id, timestamp);

CREATE TABLE prediction_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	vehicle_id      TEXT NOT NULL,
	prediction_type TEXT NOT NULL,
	eta_days        REAL NOT NULL,
	confidence      REAL NOT NULL,
	row_index       INTEGER NOT NULL,
	sim_day         INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	payload         TEXT NOT NULL
);
CREATE INDEX idx_predictions_vehicle_created ON prediction_events(vehicle_id, created_at DESC);
CREATE INDEX idx_predictions_type ON prediction_events(prediction_type);

CREATE TABLE cases (
	case_id         TEXT PRIMARY KEY,
	vehicle_id      TEXT NOT NULL,
	prediction_id   INTEGER NOT NULL,
	current_state   TEXT NOT NULL,
	severity        TEXT NOT NULL,
	prediction_type TEXT NOT NULL,
	agent_results   TEXT NOT NULL DEFAULT '{}',
	metadata        TEXT NOT NULL DEFAULT '{}',
	history         TEXT NOT NULL DEFAULT '[]',
	related         TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX idx_cases_vehicle_state ON cases(vehicle_id, current_state);

CREATE TABLE service_centers (
	center_id TEXT PRIMARY KEY,
	active    INTEGER NOT NULL DEFAULT 1,
	lon       REAL NOT NULL,
	lat       REAL NOT NULL,
	payload   TEXT NOT NULL
);

CREATE TABLE center_slots (
	center_id  TEXT NOT NULL,
	date       TEXT NOT NULL,
	band       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'available',
	case_id    TEXT,
	vehicle_id TEXT,
	PRIMARY KEY (center_id, date, band)
);
CREATE INDEX idx_slots_date_status ON center_slots(date, status);

CREATE TABLE user_profiles (
	user_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
`
