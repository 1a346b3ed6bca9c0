package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "reference catalog: foods and handling modifiers",
		SQL: `
CREATE TABLE foods (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    category        TEXT,
    base_mg_per_kg  REAL,
    band            TEXT CHECK (band IN ('low', 'medium', 'high', 'very_high')),
    liberator       INTEGER NOT NULL DEFAULT 0,
    dao_blocker     INTEGER NOT NULL DEFAULT 0,
    typical_serve_g REAL,
    confidence      TEXT NOT NULL DEFAULT 'medium' CHECK (confidence IN ('low', 'medium', 'high')),
    notes           TEXT
);

CREATE INDEX idx_foods_name     ON foods(name);
CREATE INDEX idx_foods_category ON foods(category);

CREATE TABLE handling_modifiers (
    id         TEXT PRIMARY KEY,
    label      TEXT NOT NULL,
    multiplier REAL NOT NULL CHECK (multiplier > 0)
);
`,
	},
	{
		Version:     2,
		Description: "synced records: meals, meal items, context and symptom logs",
		SQL: `
CREATE TABLE meals (
    id                TEXT PRIMARY KEY,
    occurred_at       TEXT NOT NULL,
    alcohol_with_meal INTEGER NOT NULL DEFAULT 0,
    dao_units         REAL NOT NULL DEFAULT 0,
    total_hu          REAL NOT NULL
);

CREATE INDEX idx_meals_occurred ON meals(occurred_at);

CREATE TABLE meal_items (
    meal_id     TEXT NOT NULL,
    idx         INTEGER NOT NULL,
    food_id     TEXT NOT NULL,
    grams       REAL NOT NULL,
    handling_id TEXT,
    computed_hu REAL NOT NULL,
    PRIMARY KEY (meal_id, idx),
    FOREIGN KEY (meal_id) REFERENCES meals(id) ON DELETE CASCADE
);

CREATE TABLE context_logs (
    id           TEXT PRIMARY KEY,
    date         TEXT NOT NULL UNIQUE,
    sleep_score  INTEGER,
    stress_level INTEGER,
    illness      INTEGER NOT NULL DEFAULT 0,
    alcohol      INTEGER NOT NULL DEFAULT 0,
    dao_units    REAL NOT NULL DEFAULT 0
);

CREATE TABLE symptom_logs (
    id         TEXT PRIMARY KEY,
    date       TEXT NOT NULL,
    severity   INTEGER NOT NULL CHECK (severity BETWEEN 0 AND 10),
    lag_bucket TEXT NOT NULL CHECK (lag_bucket IN ('immediate', '2-6h', '6-24h')),
    notes      TEXT
);

CREATE INDEX idx_symptoms_date ON symptom_logs(date);
`,
	},
	{
		Version:     3,
		Description: "pending-operation queues",
		SQL: `
CREATE TABLE pending_meals (
    id            INTEGER PRIMARY KEY,
    temp_id       TEXT NOT NULL UNIQUE,
    payload       TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    sync_attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_pending_meals_created ON pending_meals(created_at);

CREATE TABLE pending_contexts (
    id            INTEGER PRIMARY KEY,
    temp_id       TEXT NOT NULL UNIQUE,
    payload       TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    sync_attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_pending_contexts_created ON pending_contexts(created_at);

CREATE TABLE pending_symptoms (
    id            INTEGER PRIMARY KEY,
    temp_id       TEXT NOT NULL UNIQUE,
    payload       TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    sync_attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_pending_symptoms_created ON pending_symptoms(created_at);
`,
	},
	{
		Version:     4,
		Description: "app state and daily rollups",
		SQL: `
CREATE TABLE app_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE daily_rollups (
    date             TEXT PRIMARY KEY,
    total_hu         REAL NOT NULL,
    tolerance_before REAL NOT NULL,
    tolerance_after  REAL NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
