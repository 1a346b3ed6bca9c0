package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmorgan/histalog/internal/model"
)

// App state keys.
const (
	stateTolerance      = "tolerance_state"
	stateCatalogRefresh = "catalog_refreshed_at"
)

// GetState returns a raw app-state value and whether it was set.
func (db *DB) GetState(key string) (string, bool, error) {
	var value string
	err := db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState writes a raw app-state value, replacing any previous one.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// ToleranceState returns the stored tolerance state, or nil when the
// daily update has never run.
func (db *DB) ToleranceState() (*model.ToleranceState, error) {
	value, ok, err := db.GetState(stateTolerance)
	if err != nil || !ok {
		return nil, err
	}
	var st model.ToleranceState
	if err := json.Unmarshal([]byte(value), &st); err != nil {
		return nil, fmt.Errorf("decode tolerance state: %w", err)
	}
	return &st, nil
}

// SetToleranceState persists the tolerance state.
func (db *DB) SetToleranceState(st model.ToleranceState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode tolerance state: %w", err)
	}
	return db.SetState(stateTolerance, string(raw))
}

// CatalogRefreshedAt returns when the reference cache was last refreshed,
// or the zero time if never.
func (db *DB) CatalogRefreshedAt() (time.Time, error) {
	value, ok, err := db.GetState(stateCatalogRefresh)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode catalog refresh time: %w", err)
	}
	return ts, nil
}

// MarkCatalogRefreshed stamps the reference cache refresh time.
func (db *DB) MarkCatalogRefreshed(t time.Time) error {
	return db.SetState(stateCatalogRefresh, t.UTC().Format(time.RFC3339))
}

// UpsertRollup records a day's total load and tolerance transition.
// Re-running the daily update for the same day overwrites the row.
func (db *DB) UpsertRollup(r model.DailyRollup) error {
	_, err := db.Exec(`
		INSERT INTO daily_rollups (date, total_hu, tolerance_before, tolerance_after)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_hu = excluded.total_hu,
			tolerance_before = excluded.tolerance_before,
			tolerance_after = excluded.tolerance_after
	`, r.Date, r.TotalHU, r.ToleranceBefore, r.ToleranceAfter)
	if err != nil {
		return fmt.Errorf("upsert rollup %s: %w", r.Date, err)
	}
	return nil
}

// GetRollup returns the rollup for a day, or nil if the daily update has
// not run for it.
func (db *DB) GetRollup(date string) (*model.DailyRollup, error) {
	var r model.DailyRollup
	err := db.QueryRow(`
		SELECT date, total_hu, tolerance_before, tolerance_after
		FROM daily_rollups WHERE date = ?
	`, date).Scan(&r.Date, &r.TotalHU, &r.ToleranceBefore, &r.ToleranceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rollup %s: %w", date, err)
	}
	return &r, nil
}

// RecentRollups returns up to limit rollups in chronological order,
// ending with the most recent.
func (db *DB) RecentRollups(limit int) ([]model.DailyRollup, error) {
	rows, err := db.Query(`
		SELECT date, total_hu, tolerance_before, tolerance_after
		FROM daily_rollups ORDER BY date DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent rollups: %w", err)
	}
	defer rows.Close()

	var rollups []model.DailyRollup
	for rows.Next() {
		var r model.DailyRollup
		if err := rows.Scan(&r.Date, &r.TotalHU, &r.ToleranceBefore, &r.ToleranceAfter); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		rollups = append(rollups, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order
	for i, j := 0, len(rollups)-1; i < j; i, j = i+1, j-1 {
		rollups[i], rollups[j] = rollups[j], rollups[i]
	}
	return rollups, nil
}
