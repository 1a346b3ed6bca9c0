package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jmorgan/histalog/internal/model"
	"github.com/jmorgan/histalog/internal/store"
)

func f64(v float64) *float64 { return &v }

func testServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	foods := []model.Food{
		{ID: "parmesan", Name: "Parmesan", Category: "cheese", BaseMgPerKg: f64(800), DAOBlocker: true},
		{ID: "tuna", Name: "Canned Tuna", Category: "fish", Band: model.BandHigh, TypicalServeG: f64(30)},
	}
	if err := db.UpsertFoods(foods); err != nil {
		t.Fatalf("UpsertFoods: %v", err)
	}
	if err := db.UpsertModifiers([]model.HandlingModifier{{ID: "leftover", Label: "Leftovers", Multiplier: 1.2}}); err != nil {
		t.Fatalf("UpsertModifiers: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(db, nil, log, 100, "test"), db
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)

	rec, out := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["status"] != "ok" {
		t.Errorf("status field = %v", out["status"])
	}
	if out["db"] != true {
		t.Errorf("db field = %v", out["db"])
	}
}

func TestSearchFoodsEndpoint(t *testing.T) {
	s, _ := testServer(t)

	rec, out := doJSON(t, s, http.MethodGet, "/api/foods?q=FISH", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	foods := out["foods"].([]any)
	if len(foods) != 1 {
		t.Fatalf("foods = %v", foods)
	}
	if foods[0].(map[string]any)["id"] != "tuna" {
		t.Errorf("food = %v", foods[0])
	}
}

func TestMealPreview(t *testing.T) {
	s, _ := testServer(t)

	// tuna: high band, 60g over 30g serve, 1.2 handling = 9.6 HU
	payload := model.MealPayload{
		OccurredAt: "2026-08-30T12:00:00Z",
		Items:      []model.MealItem{{FoodID: "tuna", Grams: 60, HandlingID: "leftover"}},
	}
	rec, out := doJSON(t, s, http.MethodPost, "/api/meals/preview", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, out)
	}
	totals := out["totals"].(map[string]any)
	if got := totals["total"].(float64); got != 9.6 {
		t.Errorf("total = %v, want 9.6", got)
	}
	if out["day_gauge"] != "green" {
		t.Errorf("gauge = %v, want green (9.6 of 100)", out["day_gauge"])
	}

	// Preview never enqueues
	counts, _ := s.db.PendingCounts()
	if counts[store.KindMeal] != 0 {
		t.Errorf("preview enqueued %d entries", counts[store.KindMeal])
	}
}

func TestEnqueueMeal(t *testing.T) {
	s, db := testServer(t)

	payload := model.MealPayload{
		OccurredAt: "2026-08-30T12:00:00Z",
		Items:      []model.MealItem{{FoodID: "parmesan", Grams: 50}},
	}
	rec, out := doJSON(t, s, http.MethodPost, "/api/meals", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %v", rec.Code, out)
	}
	tempID := out["temp_id"].(string)
	if tempID == "" {
		t.Fatal("missing temp_id")
	}
	// parmesan is a DAO blocker: 40 * 1.3 = 52
	totals := out["totals"].(map[string]any)
	if got := totals["total"].(float64); got != 52 {
		t.Errorf("total = %v, want 52", got)
	}

	ops, err := db.ListPending(store.KindMeal)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(ops) != 1 || ops[0].TempID != tempID {
		t.Errorf("ops = %+v", ops)
	}
}

func TestEnqueueMealRejectsUnknownFood(t *testing.T) {
	s, db := testServer(t)

	payload := model.MealPayload{
		OccurredAt: "2026-08-30T12:00:00Z",
		Items:      []model.MealItem{{FoodID: "unicorn", Grams: 50}},
	}
	rec, _ := doJSON(t, s, http.MethodPost, "/api/meals", payload)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	// Rejected payloads are never queued
	counts, _ := db.PendingCounts()
	if counts[store.KindMeal] != 0 {
		t.Errorf("invalid payload was queued")
	}
}

func TestEnqueueSymptomValidation(t *testing.T) {
	s, _ := testServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/symptoms", model.SymptomPayload{
		Date: "2026-08-30", Severity: 11, LagBucket: model.LagImmediate,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}

	rec, out := doJSON(t, s, http.MethodPost, "/api/symptoms", model.SymptomPayload{
		Date: "2026-08-30", Severity: 6, LagBucket: model.Lag2to6h,
	})
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d: %v", rec.Code, out)
	}
}

func TestDayView(t *testing.T) {
	s, db := testServer(t)

	if err := db.InsertMeal(model.Meal{ID: "srv-1", OccurredAt: "2026-08-30T12:00:00Z", TotalHU: 60}, nil); err != nil {
		t.Fatalf("InsertMeal: %v", err)
	}
	if err := db.InsertMeal(model.Meal{ID: "srv-2", OccurredAt: "2026-08-30T19:00:00Z", TotalHU: 25}, nil); err != nil {
		t.Fatalf("InsertMeal: %v", err)
	}

	rec, out := doJSON(t, s, http.MethodGet, "/api/day/2026-08-30", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["total_hu"].(float64) != 85 {
		t.Errorf("total_hu = %v, want 85", out["total_hu"])
	}
	// 85 of 100 is amber
	if out["gauge"] != "amber" {
		t.Errorf("gauge = %v, want amber", out["gauge"])
	}
	if len(out["meals"].([]any)) != 2 {
		t.Errorf("meals = %v", out["meals"])
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/api/day/someday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad date", rec.Code)
	}
}

func TestDayViewIncludesQueuedMeals(t *testing.T) {
	s, db := testServer(t)

	if err := db.InsertMeal(model.Meal{ID: "srv-1", OccurredAt: "2026-08-30T08:00:00Z", TotalHU: 60}, nil); err != nil {
		t.Fatalf("InsertMeal: %v", err)
	}
	// parmesan is a DAO blocker: 40 * 1.3 = 52, queued but not yet synced
	payload := model.MealPayload{
		OccurredAt: "2026-08-30T12:00:00Z",
		Items:      []model.MealItem{{FoodID: "parmesan", Grams: 50}},
	}
	rec, _ := doJSON(t, s, http.MethodPost, "/api/meals", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d", rec.Code)
	}

	rec, out := doJSON(t, s, http.MethodGet, "/api/day/2026-08-30", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["total_hu"].(float64) != 112 {
		t.Errorf("total_hu = %v, want 112 (60 confirmed + 52 queued)", out["total_hu"])
	}
	if out["gauge"] != "red" {
		t.Errorf("gauge = %v, want red (112 of 100)", out["gauge"])
	}
	queued := out["queued_meals"].([]any)
	if len(queued) != 1 {
		t.Fatalf("queued_meals = %v", queued)
	}
	totals := queued[0].(map[string]any)["totals"].(map[string]any)
	if totals["total"].(float64) != 52 {
		t.Errorf("queued total = %v, want 52", totals["total"])
	}

	// Other days are unaffected by the queued entry
	rec, out = doJSON(t, s, http.MethodGet, "/api/day/2026-08-31", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["total_hu"].(float64) != 0 {
		t.Errorf("total_hu = %v, want 0", out["total_hu"])
	}
}

func TestMealPreviewCountsQueuedMeals(t *testing.T) {
	s, _ := testServer(t)

	payload := model.MealPayload{
		OccurredAt: "2026-08-30T12:00:00Z",
		Items:      []model.MealItem{{FoodID: "parmesan", Grams: 50}},
	}
	rec, _ := doJSON(t, s, http.MethodPost, "/api/meals", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d", rec.Code)
	}

	rec, out := doJSON(t, s, http.MethodPost, "/api/meals/preview", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rec.Code)
	}
	if got := out["day_total_hu"].(float64); got != 104 {
		t.Errorf("day_total_hu = %v, want 104 (52 queued + 52 previewed)", got)
	}
	if out["day_gauge"] != "red" {
		t.Errorf("day_gauge = %v, want red", out["day_gauge"])
	}
}

func TestRolloverSeesQueuedEntries(t *testing.T) {
	s, _ := testServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/symptoms", model.SymptomPayload{
		Date: "2026-08-30", Severity: 8, LagBucket: model.LagImmediate,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue symptom status = %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodPost, "/api/contexts", model.ContextPayload{
		Date: "2026-08-30", Illness: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue context status = %d", rec.Code)
	}

	rec, out := doJSON(t, s, http.MethodPost, "/api/tolerance/rollover", map[string]string{"date": "2026-08-30"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, out)
	}
	if out["max_severity"].(float64) != 8 {
		t.Errorf("max_severity = %v, want 8 (queued symptom counted)", out["max_severity"])
	}
	// 100 + 3*(2-8) - 10 illness + 5 streak = 77
	if out["tolerance_after"].(float64) != 77 {
		t.Errorf("tolerance_after = %v, want 77", out["tolerance_after"])
	}
}

func TestRollover(t *testing.T) {
	s, db := testServer(t)

	if err := db.InsertSymptomLog(model.SymptomLog{ID: "s1", Date: "2026-08-30", Severity: 0, LagBucket: model.LagImmediate}); err != nil {
		t.Fatalf("InsertSymptomLog: %v", err)
	}

	rec, out := doJSON(t, s, http.MethodPost, "/api/tolerance/rollover", map[string]string{"date": "2026-08-30"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, out)
	}
	// 100 + 3*(2-0) recovery + 5 streak bonus (three quiet days before) = 111
	if out["tolerance_after"].(float64) != 111 {
		t.Errorf("tolerance_after = %v, want 111", out["tolerance_after"])
	}

	// Re-running the same day does not compound
	rec, out = doJSON(t, s, http.MethodPost, "/api/tolerance/rollover", map[string]string{"date": "2026-08-30"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["tolerance_before"].(float64) != 100 || out["tolerance_after"].(float64) != 111 {
		t.Errorf("re-run = %v -> %v, want 100 -> 111", out["tolerance_before"], out["tolerance_after"])
	}

	rec, out = doJSON(t, s, http.MethodGet, "/api/tolerance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["tolerance"].(float64) != 111 {
		t.Errorf("tolerance = %v, want 111", out["tolerance"])
	}
}

func TestPendingAndDiscard(t *testing.T) {
	s, db := testServer(t)

	op, err := db.Enqueue(store.KindSymptom, model.SymptomPayload{Date: "2026-08-30", Severity: 3, LagBucket: model.LagImmediate})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec, out := doJSON(t, s, http.MethodGet, "/api/pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	counts := out["counts"].(map[string]any)
	if counts["symptom"].(float64) != 1 {
		t.Errorf("counts = %v", counts)
	}

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/pending/symptom/"+op.TempID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("discard status = %d", rec.Code)
	}
	// Idempotent: discarding again still succeeds
	rec, _ = doJSON(t, s, http.MethodDelete, "/api/pending/symptom/"+op.TempID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("second discard status = %d", rec.Code)
	}

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/pending/wishes/"+op.TempID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d", rec.Code)
	}
}

func TestSyncNotConfigured(t *testing.T) {
	s, _ := testServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/sync", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
