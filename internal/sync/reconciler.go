package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jmorgan/histalog/internal/hu"
	"github.com/jmorgan/histalog/internal/model"
	"github.com/jmorgan/histalog/internal/store"
)

// Options tune the reconciler's retry behavior.
type Options struct {
	// Interval between background drain passes.
	Interval time.Duration
	// MaxAttempts is the retry ceiling per entry. Entries at the ceiling
	// are skipped by the drain and surfaced via Stalled for manual
	// resolution. 0 retries forever.
	MaxAttempts int
}

// Reconciler drains the pending-operation queues against the remote
// store. It reads and deletes queue entries but never edits a payload.
type Reconciler struct {
	db     *store.DB
	remote Remote
	log    *logrus.Logger
	opts   Options
	stopCh chan struct{}
}

// New creates a Reconciler.
func New(db *store.DB, remote Remote, log *logrus.Logger, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Reconciler{
		db:     db,
		remote: remote,
		log:    log,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Stats summarizes one drain pass.
type Stats struct {
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Drain runs one pass over all three queues in creation order. A failed
// submission increments the entry's attempt counter and the pass moves on
// to the next entry; only a local storage error aborts the pass. Entries
// enqueued after the pass snapshots a queue are picked up next time.
func (r *Reconciler) Drain(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, kind := range store.Kinds {
		ops, err := r.db.ListPending(kind)
		if err != nil {
			return stats, fmt.Errorf("list pending %s: %w", kind, err)
		}
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if r.opts.MaxAttempts > 0 && op.SyncAttempts >= r.opts.MaxAttempts {
				stats.Skipped++
				continue
			}
			if err := r.submitOne(ctx, op); err != nil {
				stats.Failed++
				r.log.WithFields(logrus.Fields{
					"kind":     op.Kind,
					"temp_id":  op.TempID,
					"attempts": op.SyncAttempts + 1,
				}).WithError(err).Warn("sync failed, will retry")
				if incErr := r.db.IncrementAttempts(op.Kind, op.TempID); incErr != nil && !errors.Is(incErr, store.ErrNotFound) {
					return stats, incErr
				}
				continue
			}
			stats.Confirmed++
		}
	}
	return stats, nil
}

// submitOne sends one pending operation to the remote store and, on
// success, promotes it into the synced record set. The pending entry may
// have been discarded while the submission was in flight; in that case
// the confirmation is logged and dropped.
func (r *Reconciler) submitOne(ctx context.Context, op store.PendingOp) error {
	var serverID string
	var confirm func(serverID string) error

	switch op.Kind {
	case store.KindMeal:
		var p model.MealPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode meal payload: %w", err)
		}
		id, err := r.remote.SubmitMeal(ctx, op.TempID, p)
		if err != nil {
			return err
		}
		serverID = id
		confirm = func(id string) error { return r.confirmMeal(op.TempID, id, p) }

	case store.KindContext:
		var p model.ContextPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode context payload: %w", err)
		}
		id, err := r.remote.SubmitContext(ctx, op.TempID, p)
		if err != nil {
			return err
		}
		serverID = id
		confirm = func(id string) error {
			return r.db.ConfirmContext(op.TempID, model.ContextLog{
				ID: id, Date: p.Date,
				SleepScore: p.SleepScore, StressLevel: p.StressLevel,
				Illness: p.Illness, Alcohol: p.Alcohol, DAOUnits: p.DAOUnits,
			})
		}

	case store.KindSymptom:
		var p model.SymptomPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode symptom payload: %w", err)
		}
		id, err := r.remote.SubmitSymptom(ctx, op.TempID, p)
		if err != nil {
			return err
		}
		serverID = id
		confirm = func(id string) error {
			return r.db.ConfirmSymptom(op.TempID, model.SymptomLog{
				ID: id, Date: p.Date, Severity: p.Severity,
				LagBucket: p.LagBucket, Notes: p.Notes,
			})
		}

	default:
		return fmt.Errorf("unknown pending kind %q", op.Kind)
	}

	err := confirm(serverID)
	if errors.Is(err, store.ErrNotFound) {
		// The entry was discarded locally after submission started.
		// Applying the confirmation now would resurrect a record the user
		// deleted, so it is dropped.
		r.log.WithFields(logrus.Fields{
			"kind":      op.Kind,
			"temp_id":   op.TempID,
			"server_id": serverID,
		}).Info("confirmation for discarded entry ignored")
		return nil
	}
	return err
}

func (r *Reconciler) confirmMeal(tempID, serverID string, p model.MealPayload) error {
	// Recompute totals against the cached catalog at confirmation time.
	// The payload went through the same validation before enqueue, so
	// lookups should succeed unless the catalog shrank meanwhile.
	items, err := r.db.ResolveItems(p.Items)
	if err != nil {
		return fmt.Errorf("resolve meal items: %w", err)
	}
	totals := hu.MealTotals(items, p.AlcoholWithMeal, p.DAOUnits)

	recordItems := make([]model.MealRecordItem, len(p.Items))
	for i, it := range p.Items {
		recordItems[i] = model.MealRecordItem{
			MealID: serverID, Idx: i,
			FoodID: it.FoodID, Grams: it.Grams, HandlingID: it.HandlingID,
			ComputedHU: totals.Items[i],
		}
	}
	return r.db.ConfirmMeal(tempID, model.Meal{
		ID: serverID, OccurredAt: p.OccurredAt,
		AlcoholWithMeal: p.AlcoholWithMeal, DAOUnits: p.DAOUnits,
		TotalHU: totals.Total,
	}, recordItems)
}

// Start launches the background drain loop: one pass immediately, then
// one per interval, until Stop or context cancellation. New entries
// enqueued while a pass runs are picked up on the following pass.
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()

		for {
			stats, err := r.Drain(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.WithError(err).Error("drain pass aborted")
			} else if stats.Confirmed > 0 || stats.Failed > 0 {
				r.log.WithFields(logrus.Fields{
					"confirmed": stats.Confirmed,
					"failed":    stats.Failed,
					"skipped":   stats.Skipped,
				}).Info("drain pass finished")
			}

			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop shuts down the background drain loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Stalled lists entries at or above the retry ceiling. Always empty when
// retries are unlimited.
func (r *Reconciler) Stalled() ([]store.PendingOp, error) {
	if r.opts.MaxAttempts <= 0 {
		return nil, nil
	}
	return r.db.ListStalled(r.opts.MaxAttempts)
}
