package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jmorgan/histalog/internal/model"
	"github.com/jmorgan/histalog/internal/store"
)

func f64(v float64) *float64 { return &v }

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	foods := []model.Food{
		{ID: "parmesan", Name: "Parmesan", BaseMgPerKg: f64(800)},
		{ID: "rice", Name: "White Rice", Band: model.BandLow, TypicalServeG: f64(150)},
	}
	if err := db.UpsertFoods(foods); err != nil {
		t.Fatalf("UpsertFoods: %v", err)
	}
	return db
}

// fakeRemote records submissions and answers with deterministic server
// ids. failures maps temp ids that should be rejected.
type fakeRemote struct {
	submitted map[string]int
	failures  map[string]error
	nextID    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{submitted: make(map[string]int), failures: make(map[string]error)}
}

func (f *fakeRemote) answer(tempID string) (string, error) {
	f.submitted[tempID]++
	if err := f.failures[tempID]; err != nil {
		return "", err
	}
	f.nextID++
	return fmt.Sprintf("srv-%d", f.nextID), nil
}

func (f *fakeRemote) SubmitMeal(_ context.Context, tempID string, _ model.MealPayload) (string, error) {
	return f.answer(tempID)
}

func (f *fakeRemote) SubmitContext(_ context.Context, tempID string, _ model.ContextPayload) (string, error) {
	return f.answer(tempID)
}

func (f *fakeRemote) SubmitSymptom(_ context.Context, tempID string, _ model.SymptomPayload) (string, error) {
	return f.answer(tempID)
}

func TestDrainConfirmsAndPromotes(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	r := New(db, remote, testLog(), Options{})

	mealOp, err := db.Enqueue(store.KindMeal, model.MealPayload{
		OccurredAt: "2026-08-30T12:00:00Z",
		Items:      []model.MealItem{{FoodID: "parmesan", Grams: 50}},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	symOp, err := db.Enqueue(store.KindSymptom, model.SymptomPayload{Date: "2026-08-30", Severity: 4, LagBucket: model.Lag2to6h})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Confirmed != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 2 confirmed", stats)
	}
	if remote.submitted[mealOp.TempID] != 1 || remote.submitted[symOp.TempID] != 1 {
		t.Errorf("submissions = %v, want one each", remote.submitted)
	}

	// Queues are empty and synced records exist
	counts, _ := db.PendingCounts()
	for kind, n := range counts {
		if n != 0 {
			t.Errorf("%s queue = %d, want 0", kind, n)
		}
	}
	meals, err := db.MealsForDay("2026-08-30")
	if err != nil {
		t.Fatalf("MealsForDay: %v", err)
	}
	if len(meals) != 1 {
		t.Fatalf("meals = %d, want 1", len(meals))
	}
	// 800 mg/kg * 50g / 1000 = 40 HU, no credit
	if meals[0].TotalHU != 40 {
		t.Errorf("TotalHU = %v, want 40", meals[0].TotalHU)
	}
	items, err := db.MealItems(meals[0].ID)
	if err != nil {
		t.Fatalf("MealItems: %v", err)
	}
	if len(items) != 1 || items[0].ComputedHU != 40 {
		t.Errorf("items = %+v", items)
	}

	symptoms, err := db.SymptomsBetween("2026-08-30", "2026-08-30")
	if err != nil {
		t.Fatalf("SymptomsBetween: %v", err)
	}
	if len(symptoms) != 1 || symptoms[0].Severity != 4 {
		t.Errorf("symptoms = %+v", symptoms)
	}
}

func TestDrainFailureIncrementsAndContinues(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	r := New(db, remote, testLog(), Options{})

	bad, _ := db.Enqueue(store.KindSymptom, model.SymptomPayload{Date: "2026-08-29", Severity: 2, LagBucket: model.LagImmediate})
	good, _ := db.Enqueue(store.KindSymptom, model.SymptomPayload{Date: "2026-08-30", Severity: 5, LagBucket: model.LagImmediate})
	remote.failures[bad.TempID] = errors.New("network down")

	stats, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Confirmed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 confirmed / 1 failed", stats)
	}

	// The failed entry is still queued with attempts incremented; the pass
	// did not abort before the later entry.
	op, err := db.GetPending(store.KindSymptom, bad.TempID)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if op == nil {
		t.Fatal("failed entry should remain queued")
	}
	if op.SyncAttempts != 1 {
		t.Errorf("SyncAttempts = %d, want 1", op.SyncAttempts)
	}
	if remote.submitted[good.TempID] != 1 {
		t.Error("later entry was not submitted")
	}

	// Retry after the failure clears uses the original payload and drains.
	delete(remote.failures, bad.TempID)
	stats, err = r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Confirmed != 1 {
		t.Errorf("stats = %+v, want 1 confirmed on retry", stats)
	}
	if remote.submitted[bad.TempID] != 2 {
		t.Errorf("submissions = %d, want 2 (same temp id reused)", remote.submitted[bad.TempID])
	}
}

func TestDrainSkipsAtRetryCeiling(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	r := New(db, remote, testLog(), Options{MaxAttempts: 2})

	op, _ := db.Enqueue(store.KindContext, model.ContextPayload{Date: "2026-08-30"})
	remote.failures[op.TempID] = errors.New("rejected")

	for pass := 0; pass < 2; pass++ {
		if _, err := r.Drain(context.Background()); err != nil {
			t.Fatalf("Drain: %v", err)
		}
	}
	stats, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 1 skipped at ceiling", stats)
	}
	if remote.submitted[op.TempID] != 2 {
		t.Errorf("submissions = %d, want 2 (ceiling respected)", remote.submitted[op.TempID])
	}

	stalled, err := r.Stalled()
	if err != nil {
		t.Fatalf("Stalled: %v", err)
	}
	if len(stalled) != 1 || stalled[0].TempID != op.TempID {
		t.Errorf("stalled = %+v", stalled)
	}
}

// slowRemote discards the entry mid-submission, simulating a user
// cancelling while the request is in flight.
type slowRemote struct {
	db *store.DB
	t  *testing.T
}

func (s *slowRemote) SubmitMeal(_ context.Context, tempID string, _ model.MealPayload) (string, error) {
	return "srv-race", nil
}

func (s *slowRemote) SubmitContext(_ context.Context, tempID string, _ model.ContextPayload) (string, error) {
	return "srv-race", nil
}

func (s *slowRemote) SubmitSymptom(_ context.Context, tempID string, _ model.SymptomPayload) (string, error) {
	// Discard happens while the submission is "in flight".
	if err := s.db.Discard(store.KindSymptom, tempID); err != nil {
		s.t.Fatalf("Discard: %v", err)
	}
	return "srv-race", nil
}

func TestConfirmationForDiscardedEntryIgnored(t *testing.T) {
	db := testDB(t)
	r := New(db, &slowRemote{db: db, t: t}, testLog(), Options{})

	if _, err := db.Enqueue(store.KindSymptom, model.SymptomPayload{Date: "2026-08-30", Severity: 7, LagBucket: model.LagImmediate}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Failed != 0 {
		t.Errorf("stats = %+v, discarded confirmation must not count as failure", stats)
	}

	// The confirmation was dropped, not applied
	logs, err := db.SymptomsBetween("2026-08-30", "2026-08-30")
	if err != nil {
		t.Fatalf("SymptomsBetween: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("logs = %d, want 0", len(logs))
	}
}

func TestDrainTolerateConcurrentEnqueue(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	r := New(db, remote, testLog(), Options{})

	if _, err := db.Enqueue(store.KindContext, model.ContextPayload{Date: "2026-08-29"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	// An entry enqueued after the pass snapshots the queue is picked up by
	// the next pass without disturbance.
	if _, err := db.Enqueue(store.KindContext, model.ContextPayload{Date: "2026-08-30"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := r.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Confirmed != 1 {
		t.Errorf("stats = %+v, want 1 confirmed", stats)
	}
}
