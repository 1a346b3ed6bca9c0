package store

import (
	"database/sql"
	"fmt"

	"github.com/jmorgan/histalog/internal/hu"
	"github.com/jmorgan/histalog/internal/model"
)

// DefaultSearchLimit caps food search results when the caller passes no limit.
const DefaultSearchLimit = 50

// UpsertFoods bulk-replaces catalog foods keyed by identifier. An existing
// row with the same id is overwritten — last write wins.
func (db *DB) UpsertFoods(foods []model.Food) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert foods: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO foods (id, name, category, base_mg_per_kg, band, liberator, dao_blocker, typical_serve_g, confidence, notes)
		VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?, NULLIF(?, ''))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			base_mg_per_kg = excluded.base_mg_per_kg,
			band = excluded.band,
			liberator = excluded.liberator,
			dao_blocker = excluded.dao_blocker,
			typical_serve_g = excluded.typical_serve_g,
			confidence = excluded.confidence,
			notes = excluded.notes
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert foods: %w", err)
	}
	defer stmt.Close()

	for _, f := range foods {
		confidence := f.Confidence
		if confidence == "" {
			confidence = model.ConfidenceMedium
		}
		if _, err := stmt.Exec(f.ID, f.Name, f.Category, f.BaseMgPerKg, string(f.Band),
			f.Liberator, f.DAOBlocker, f.TypicalServeG, string(confidence), f.Notes); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert food %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert foods: %w", err)
	}
	return nil
}

// UpsertModifiers bulk-replaces handling modifiers keyed by identifier.
func (db *DB) UpsertModifiers(mods []model.HandlingModifier) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert modifiers: %w", err)
	}
	for _, m := range mods {
		if _, err := tx.Exec(`
			INSERT INTO handling_modifiers (id, label, multiplier)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET label = excluded.label, multiplier = excluded.multiplier
		`, m.ID, m.Label, m.Multiplier); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert modifier %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert modifiers: %w", err)
	}
	return nil
}

const foodColumns = "id, name, category, base_mg_per_kg, band, liberator, dao_blocker, typical_serve_g, confidence, notes"

func scanFood(row interface{ Scan(...any) error }) (*model.Food, error) {
	var f model.Food
	var category, band, notes sql.NullString
	var baseMg, serve sql.NullFloat64
	var liberator, blocker int
	err := row.Scan(&f.ID, &f.Name, &category, &baseMg, &band,
		&liberator, &blocker, &serve, &f.Confidence, &notes)
	if err != nil {
		return nil, err
	}
	f.Category = category.String
	f.Band = model.Band(band.String)
	f.Notes = notes.String
	f.Liberator = liberator != 0
	f.DAOBlocker = blocker != 0
	if baseMg.Valid {
		v := baseMg.Float64
		f.BaseMgPerKg = &v
	}
	if serve.Valid {
		v := serve.Float64
		f.TypicalServeG = &v
	}
	return &f, nil
}

// GetFood returns a food by id, or nil if not cached.
func (db *DB) GetFood(id string) (*model.Food, error) {
	f, err := scanFood(db.QueryRow("SELECT "+foodColumns+" FROM foods WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get food %s: %w", id, err)
	}
	return f, nil
}

// SearchFoods returns foods whose name or category contains the query,
// case-insensitively, capped at limit (DefaultSearchLimit when limit <= 0).
func (db *DB) SearchFoods(query string, limit int) ([]model.Food, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	rows, err := db.Query(`
		SELECT `+foodColumns+` FROM foods
		WHERE instr(lower(name), lower(?)) > 0
		   OR instr(lower(COALESCE(category, '')), lower(?)) > 0
		ORDER BY name
		LIMIT ?
	`, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search foods: %w", err)
	}
	defer rows.Close()

	var foods []model.Food
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, fmt.Errorf("scan food: %w", err)
		}
		foods = append(foods, *f)
	}
	return foods, rows.Err()
}

// GetModifier returns a handling modifier by id, or nil if not cached.
func (db *DB) GetModifier(id string) (*model.HandlingModifier, error) {
	var m model.HandlingModifier
	err := db.QueryRow(
		"SELECT id, label, multiplier FROM handling_modifiers WHERE id = ?", id,
	).Scan(&m.ID, &m.Label, &m.Multiplier)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get modifier %s: %w", id, err)
	}
	return &m, nil
}

// ListModifiers returns all handling modifiers ordered by label.
func (db *DB) ListModifiers() ([]model.HandlingModifier, error) {
	rows, err := db.Query("SELECT id, label, multiplier FROM handling_modifiers ORDER BY label")
	if err != nil {
		return nil, fmt.Errorf("list modifiers: %w", err)
	}
	defer rows.Close()

	var mods []model.HandlingModifier
	for rows.Next() {
		var m model.HandlingModifier
		if err := rows.Scan(&m.ID, &m.Label, &m.Multiplier); err != nil {
			return nil, fmt.Errorf("scan modifier: %w", err)
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}

// ResolveItems looks up the cached catalog entries for a meal payload's
// items, preserving order. Unknown identifiers come back as a
// ValidationError so the payload is rejected before it is queued.
func (db *DB) ResolveItems(items []model.MealItem) ([]hu.Item, error) {
	resolved := make([]hu.Item, len(items))
	for i, it := range items {
		food, err := db.GetFood(it.FoodID)
		if err != nil {
			return nil, err
		}
		if food == nil {
			return nil, &model.ValidationError{
				Field:  fmt.Sprintf("items[%d].food_id", i),
				Reason: fmt.Sprintf("unknown food %q", it.FoodID),
			}
		}
		resolved[i] = hu.Item{Food: *food, Grams: it.Grams}
		if it.HandlingID != "" {
			mod, err := db.GetModifier(it.HandlingID)
			if err != nil {
				return nil, err
			}
			if mod == nil {
				return nil, &model.ValidationError{
					Field:  fmt.Sprintf("items[%d].handling_id", i),
					Reason: fmt.Sprintf("unknown handling modifier %q", it.HandlingID),
				}
			}
			resolved[i].Handling = mod
		}
	}
	return resolved, nil
}
