package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmorgan/histalog/internal/model"
)

// execer is the subset of *sql.DB and *sql.Tx the record writers need,
// so the same SQL serves both direct inserts and confirmations.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// insertMeal writes a confirmed meal and its items under the
// server-assigned identifier. Items keep their positional index so stored
// per-item scores stay aligned with the input order.
func insertMeal(e execer, m model.Meal, items []model.MealRecordItem) error {
	if _, err := e.Exec(`
		INSERT INTO meals (id, occurred_at, alcohol_with_meal, dao_units, total_hu)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			occurred_at = excluded.occurred_at,
			alcohol_with_meal = excluded.alcohol_with_meal,
			dao_units = excluded.dao_units,
			total_hu = excluded.total_hu
	`, m.ID, m.OccurredAt, m.AlcoholWithMeal, m.DAOUnits, m.TotalHU); err != nil {
		return fmt.Errorf("insert meal %s: %w", m.ID, err)
	}
	if _, err := e.Exec("DELETE FROM meal_items WHERE meal_id = ?", m.ID); err != nil {
		return fmt.Errorf("clear meal items %s: %w", m.ID, err)
	}
	for _, it := range items {
		if _, err := e.Exec(`
			INSERT INTO meal_items (meal_id, idx, food_id, grams, handling_id, computed_hu)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)
		`, m.ID, it.Idx, it.FoodID, it.Grams, it.HandlingID, it.ComputedHU); err != nil {
			return fmt.Errorf("insert meal item %s/%d: %w", m.ID, it.Idx, err)
		}
	}
	return nil
}

// InsertMeal stores a confirmed meal and its items in one transaction.
func (db *DB) InsertMeal(m model.Meal, items []model.MealRecordItem) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert meal: %w", err)
	}
	if err := insertMeal(tx, m, items); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert meal: %w", err)
	}
	return nil
}

// MealsForDay returns confirmed meals whose timestamp falls on the given
// calendar day, in chronological order.
func (db *DB) MealsForDay(date string) ([]model.Meal, error) {
	rows, err := db.Query(`
		SELECT id, occurred_at, alcohol_with_meal, dao_units, total_hu
		FROM meals
		WHERE substr(occurred_at, 1, 10) = ?
		ORDER BY occurred_at
	`, date)
	if err != nil {
		return nil, fmt.Errorf("meals for day %s: %w", date, err)
	}
	defer rows.Close()

	var meals []model.Meal
	for rows.Next() {
		var m model.Meal
		var alcohol int
		if err := rows.Scan(&m.ID, &m.OccurredAt, &alcohol, &m.DAOUnits, &m.TotalHU); err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		m.AlcoholWithMeal = alcohol != 0
		meals = append(meals, m)
	}
	return meals, rows.Err()
}

// MealItems returns the stored items of a meal in positional order.
func (db *DB) MealItems(mealID string) ([]model.MealRecordItem, error) {
	rows, err := db.Query(`
		SELECT meal_id, idx, food_id, grams, COALESCE(handling_id, ''), computed_hu
		FROM meal_items WHERE meal_id = ? ORDER BY idx
	`, mealID)
	if err != nil {
		return nil, fmt.Errorf("meal items %s: %w", mealID, err)
	}
	defer rows.Close()

	var items []model.MealRecordItem
	for rows.Next() {
		var it model.MealRecordItem
		if err := rows.Scan(&it.MealID, &it.Idx, &it.FoodID, &it.Grams, &it.HandlingID, &it.ComputedHU); err != nil {
			return nil, fmt.Errorf("scan meal item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DayTotalHU sums the confirmed meal totals for a calendar day.
func (db *DB) DayTotalHU(date string) (float64, error) {
	var total float64
	err := db.QueryRow(
		"SELECT COALESCE(SUM(total_hu), 0) FROM meals WHERE substr(occurred_at, 1, 10) = ?", date,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("day total %s: %w", date, err)
	}
	return total, nil
}

// insertContextLog writes a confirmed daily context record. One row per
// calendar day; a later write for the same day replaces the earlier one.
func insertContextLog(e execer, c model.ContextLog) error {
	_, err := e.Exec(`
		INSERT INTO context_logs (id, date, sleep_score, stress_level, illness, alcohol, dao_units)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			id = excluded.id,
			sleep_score = excluded.sleep_score,
			stress_level = excluded.stress_level,
			illness = excluded.illness,
			alcohol = excluded.alcohol,
			dao_units = excluded.dao_units
	`, c.ID, c.Date, c.SleepScore, c.StressLevel, c.Illness, c.Alcohol, c.DAOUnits)
	if err != nil {
		return fmt.Errorf("insert context log %s: %w", c.Date, err)
	}
	return nil
}

// InsertContextLog stores a confirmed daily context record.
func (db *DB) InsertContextLog(c model.ContextLog) error {
	return insertContextLog(db, c)
}

// ContextForDate returns the confirmed context record for a day, or nil.
func (db *DB) ContextForDate(date string) (*model.ContextLog, error) {
	var c model.ContextLog
	var sleep, stress sql.NullInt64
	var illness, alcohol int
	err := db.QueryRow(`
		SELECT id, date, sleep_score, stress_level, illness, alcohol, dao_units
		FROM context_logs WHERE date = ?
	`, date).Scan(&c.ID, &c.Date, &sleep, &stress, &illness, &alcohol, &c.DAOUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("context for %s: %w", date, err)
	}
	if sleep.Valid {
		v := int(sleep.Int64)
		c.SleepScore = &v
	}
	if stress.Valid {
		v := int(stress.Int64)
		c.StressLevel = &v
	}
	c.Illness = illness != 0
	c.Alcohol = alcohol != 0
	return &c, nil
}

// insertSymptomLog writes a confirmed symptom record.
func insertSymptomLog(e execer, s model.SymptomLog) error {
	_, err := e.Exec(`
		INSERT INTO symptom_logs (id, date, severity, lag_bucket, notes)
		VALUES (?, ?, ?, ?, NULLIF(?, ''))
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			severity = excluded.severity,
			lag_bucket = excluded.lag_bucket,
			notes = excluded.notes
	`, s.ID, s.Date, s.Severity, string(s.LagBucket), s.Notes)
	if err != nil {
		return fmt.Errorf("insert symptom log %s: %w", s.ID, err)
	}
	return nil
}

// InsertSymptomLog stores a confirmed symptom record.
func (db *DB) InsertSymptomLog(s model.SymptomLog) error {
	return insertSymptomLog(db, s)
}

// SymptomsBetween returns confirmed symptom records with from <= date <= to.
func (db *DB) SymptomsBetween(from, to string) ([]model.SymptomLog, error) {
	rows, err := db.Query(`
		SELECT id, date, severity, lag_bucket, COALESCE(notes, '')
		FROM symptom_logs
		WHERE date >= ? AND date <= ?
		ORDER BY date, id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("symptoms between %s and %s: %w", from, to, err)
	}
	defer rows.Close()

	var logs []model.SymptomLog
	for rows.Next() {
		var s model.SymptomLog
		if err := rows.Scan(&s.ID, &s.Date, &s.Severity, &s.LagBucket, &s.Notes); err != nil {
			return nil, fmt.Errorf("scan symptom log: %w", err)
		}
		logs = append(logs, s)
	}
	return logs, rows.Err()
}
