package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which pending queue an operation belongs to.
type Kind string

const (
	KindMeal    Kind = "meal"
	KindContext Kind = "context"
	KindSymptom Kind = "symptom"
)

// Kinds lists the queues in the order a drain pass visits them.
var Kinds = []Kind{KindMeal, KindContext, KindSymptom}

var queueTables = map[Kind]string{
	KindMeal:    "pending_meals",
	KindContext: "pending_contexts",
	KindSymptom: "pending_symptoms",
}

func (k Kind) table() (string, error) {
	t, ok := queueTables[k]
	if !ok {
		return "", fmt.Errorf("unknown queue kind %q", k)
	}
	return t, nil
}

// PendingOp is a queued, not-yet-confirmed user action. Payload is the
// JSON-encoded operation payload and is immutable once queued; only
// SyncAttempts may change afterwards.
type PendingOp struct {
	TempID       string          `json:"temp_id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	SyncAttempts int             `json:"sync_attempts"`
}

// Enqueue records a new pending operation: assigns a temporary id, stamps
// the creation time and starts the attempt counter at zero.
func (db *DB) Enqueue(kind Kind, payload any) (*PendingOp, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	op := &PendingOp{
		TempID:    uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
	_, err = db.Exec(
		"INSERT INTO "+table+" (temp_id, payload, created_at, sync_attempts) VALUES (?, ?, ?, 0)",
		op.TempID, string(raw), op.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return op, nil
}

// ListPending returns the queued operations of one kind ordered by
// creation time, oldest first. This ordering defines submission order.
func (db *DB) ListPending(kind Kind) ([]PendingOp, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		"SELECT temp_id, payload, created_at, sync_attempts FROM " + table + " ORDER BY created_at, id",
	)
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", kind, err)
	}
	defer rows.Close()

	var ops []PendingOp
	for rows.Next() {
		op := PendingOp{Kind: kind}
		var payload string
		var createdAt int64
		if err := rows.Scan(&op.TempID, &payload, &createdAt, &op.SyncAttempts); err != nil {
			return nil, fmt.Errorf("scan pending %s: %w", kind, err)
		}
		op.Payload = json.RawMessage(payload)
		op.CreatedAt = time.UnixMilli(createdAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetPending returns one queued operation by temporary id, or nil if it
// is no longer queued.
func (db *DB) GetPending(kind Kind, tempID string) (*PendingOp, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}
	op := PendingOp{Kind: kind}
	var payload string
	var createdAt int64
	err = db.QueryRow(
		"SELECT temp_id, payload, created_at, sync_attempts FROM "+table+" WHERE temp_id = ?", tempID,
	).Scan(&op.TempID, &payload, &createdAt, &op.SyncAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending %s %s: %w", kind, tempID, err)
	}
	op.Payload = json.RawMessage(payload)
	op.CreatedAt = time.UnixMilli(createdAt)
	return &op, nil
}

// IncrementAttempts bumps the retry counter for a queued operation.
// Returns ErrNotFound if the entry is no longer queued.
func (db *DB) IncrementAttempts(kind Kind, tempID string) error {
	table, err := kind.table()
	if err != nil {
		return err
	}
	res, err := db.Exec(
		"UPDATE "+table+" SET sync_attempts = sync_attempts + 1 WHERE temp_id = ?", tempID,
	)
	if err != nil {
		return fmt.Errorf("increment attempts %s %s: %w", kind, tempID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment attempts %s %s: %w", kind, tempID, err)
	}
	if n == 0 {
		return fmt.Errorf("increment attempts %s %s: %w", kind, tempID, ErrNotFound)
	}
	return nil
}

// Discard removes a queued operation. Discarding an absent temp id is a
// no-op, not an error.
func (db *DB) Discard(kind Kind, tempID string) error {
	table, err := kind.table()
	if err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM "+table+" WHERE temp_id = ?", tempID); err != nil {
		return fmt.Errorf("discard %s %s: %w", kind, tempID, err)
	}
	return nil
}

// PendingCounts returns the queue depths per kind.
func (db *DB) PendingCounts() (map[Kind]int, error) {
	counts := make(map[Kind]int, len(Kinds))
	for _, kind := range Kinds {
		table, err := kind.table()
		if err != nil {
			return nil, err
		}
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count pending %s: %w", kind, err)
		}
		counts[kind] = n
	}
	return counts, nil
}

// ListStalled returns queued operations whose attempt counter has reached
// minAttempts, across all kinds, for manual resolution.
func (db *DB) ListStalled(minAttempts int) ([]PendingOp, error) {
	var stalled []PendingOp
	for _, kind := range Kinds {
		ops, err := db.ListPending(kind)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			if op.SyncAttempts >= minAttempts {
				stalled = append(stalled, op)
			}
		}
	}
	return stalled, nil
}
