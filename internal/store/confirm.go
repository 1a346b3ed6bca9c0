package store

import (
	"fmt"

	"github.com/jmorgan/histalog/internal/model"
)

// Confirmation promotes a pending operation into the synced record set
// under its server-assigned identifier and removes the queue entry, in a
// single local transaction. If the pending entry is gone — the user
// discarded it while the submission was in flight — the promotion is
// refused with ErrNotFound and nothing is written, so a stale server
// confirmation is never applied destructively.

func (db *DB) confirmTx(kind Kind, tempID string, insert func(e execer) error) error {
	table, err := kind.table()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin confirm %s: %w", kind, err)
	}
	res, err := tx.Exec("DELETE FROM "+table+" WHERE temp_id = ?", tempID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("confirm %s %s: %w", kind, tempID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("confirm %s %s: %w", kind, tempID, err)
	}
	if n == 0 {
		tx.Rollback()
		return fmt.Errorf("confirm %s %s: %w", kind, tempID, ErrNotFound)
	}
	if err := insert(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm %s: %w", kind, err)
	}
	return nil
}

// ConfirmMeal replaces the pending meal identified by tempID with the
// confirmed meal record and its items.
func (db *DB) ConfirmMeal(tempID string, m model.Meal, items []model.MealRecordItem) error {
	return db.confirmTx(KindMeal, tempID, func(e execer) error {
		return insertMeal(e, m, items)
	})
}

// ConfirmContext replaces the pending context entry with the confirmed
// daily context record.
func (db *DB) ConfirmContext(tempID string, c model.ContextLog) error {
	return db.confirmTx(KindContext, tempID, func(e execer) error {
		return insertContextLog(e, c)
	})
}

// ConfirmSymptom replaces the pending symptom entry with the confirmed
// symptom record.
func (db *DB) ConfirmSymptom(tempID string, s model.SymptomLog) error {
	return db.confirmTx(KindSymptom, tempID, func(e execer) error {
		return insertSymptomLog(e, s)
	})
}
