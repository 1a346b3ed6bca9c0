package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmorgan/histalog/internal/hu"
	"github.com/jmorgan/histalog/internal/model"
	"github.com/jmorgan/histalog/internal/store"
	"github.com/jmorgan/histalog/internal/tolerance"
)

func (s *Server) handleSearchFoods(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	foods, err := s.db.SearchFoods(query, limit)
	if err != nil {
		s.log.WithError(err).Error("food search failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	if foods == nil {
		foods = []model.Food{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"foods": foods})
}

func (s *Server) handleListModifiers(w http.ResponseWriter, r *http.Request) {
	mods, err := s.db.ListModifiers()
	if err != nil {
		s.log.WithError(err).Error("modifier list failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	if mods == nil {
		mods = []model.HandlingModifier{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"handling_modifiers": mods})
}

// scoreMeal validates a meal payload against the cached catalog and
// computes its totals.
func (s *Server) scoreMeal(p model.MealPayload) (hu.Totals, error) {
	if err := p.Validate(); err != nil {
		return hu.Totals{}, err
	}
	items, err := s.db.ResolveItems(p.Items)
	if err != nil {
		return hu.Totals{}, err
	}
	return hu.MealTotals(items, p.AlcoholWithMeal, p.DAOUnits), nil
}

func (s *Server) handleMealPreview(w http.ResponseWriter, r *http.Request) {
	var p model.MealPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	totals, err := s.scoreMeal(p)
	if err != nil {
		s.replyScoreError(w, err)
		return
	}

	tol := s.currentTolerance()
	date := p.OccurredAt[:10]
	dayTotal, err := s.dayTotalHU(date)
	if err != nil {
		s.log.WithError(err).Error("day total failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	dayTotal += totals.Total

	writeJSON(w, http.StatusOK, map[string]any{
		"totals":       totals,
		"day_total_hu": dayTotal,
		"day_gauge":    hu.GaugeColor(dayTotal, tol),
	})
}

func (s *Server) replyScoreError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusUnprocessableEntity, ve.Error())
		return
	}
	s.log.WithError(err).Error("meal scoring failed")
	writeError(w, http.StatusInternalServerError, "cache unavailable")
}

func (s *Server) handleEnqueueMeal(w http.ResponseWriter, r *http.Request) {
	var p model.MealPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// Reject invalid payloads before they ever reach the queue.
	totals, err := s.scoreMeal(p)
	if err != nil {
		s.replyScoreError(w, err)
		return
	}

	op, err := s.db.Enqueue(store.KindMeal, p)
	if err != nil {
		s.log.WithError(err).Error("enqueue meal failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	// The entry just queued is already part of the day total.
	tol := s.currentTolerance()
	dayTotal, err := s.dayTotalHU(p.OccurredAt[:10])
	if err != nil {
		s.log.WithError(err).Error("day total failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"temp_id":      op.TempID,
		"totals":       totals,
		"day_total_hu": dayTotal,
		"day_gauge":    hu.GaugeColor(dayTotal, tol),
	})
}

func (s *Server) handleEnqueueContext(w http.ResponseWriter, r *http.Request) {
	var p model.ContextPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	op, err := s.db.Enqueue(store.KindContext, p)
	if err != nil {
		s.log.WithError(err).Error("enqueue context failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"temp_id": op.TempID})
}

func (s *Server) handleEnqueueSymptom(w http.ResponseWriter, r *http.Request) {
	var p model.SymptomPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	op, err := s.db.Enqueue(store.KindSymptom, p)
	if err != nil {
		s.log.WithError(err).Error("enqueue symptom failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"temp_id": op.TempID})
}

// currentTolerance returns the stored tolerance value, falling back to
// the configured default before the first daily update.
func (s *Server) currentTolerance() float64 {
	st, err := s.db.ToleranceState()
	if err != nil {
		s.log.WithError(err).Warn("tolerance state unavailable, using default")
		return s.defaultTolerance
	}
	if st == nil {
		return s.defaultTolerance
	}
	return st.Value
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(model.DateFormat, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	confirmed, err := s.db.DayTotalHU(date)
	if err != nil {
		s.log.WithError(err).Error("day total failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	queued, queuedTotal, err := s.queuedMealsForDay(date)
	if err != nil {
		s.log.WithError(err).Error("queued meals failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	if queued == nil {
		queued = []queuedMeal{}
	}
	meals, err := s.db.MealsForDay(date)
	if err != nil {
		s.log.WithError(err).Error("day meals failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	type dayMeal struct {
		model.Meal
		Items []model.MealRecordItem `json:"items"`
	}
	dayMeals := make([]dayMeal, len(meals))
	for i, m := range meals {
		items, err := s.db.MealItems(m.ID)
		if err != nil {
			s.log.WithError(err).Error("meal items failed")
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if items == nil {
			items = []model.MealRecordItem{}
		}
		dayMeals[i] = dayMeal{Meal: m, Items: items}
	}

	total := confirmed + queuedTotal
	tol := s.currentTolerance()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_hu":     total,
		"tolerance":    tol,
		"gauge":        hu.GaugeColor(total, tol),
		"meals":        dayMeals,
		"queued_meals": queued,
	})
}

func (s *Server) handleTolerance(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.ToleranceState()
	if err != nil {
		s.log.WithError(err).Error("tolerance state failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	rollups, err := s.db.RecentRollups(7)
	if err != nil {
		s.log.WithError(err).Error("rollups failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	history := make([]float64, len(rollups))
	for i, rr := range rollups {
		history[i] = rr.ToleranceAfter
	}

	value := s.defaultTolerance
	updated := ""
	if st != nil {
		value = st.Value
		updated = st.Date
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tolerance": value,
		"updated":   updated,
		"trend":     tolerance.TrendOf(history),
	})
}

// handleRollover runs the daily tolerance update for a calendar day.
// Re-running the same day recomputes from that day's starting value
// instead of compounding.
func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if _, err := time.Parse(model.DateFormat, req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	prev := s.currentTolerance()
	existing, err := s.db.GetRollup(req.Date)
	if err != nil {
		s.log.WithError(err).Error("rollup lookup failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	if existing != nil {
		prev = existing.ToleranceBefore
	}

	// Queued entries count the same as confirmed ones so running the
	// daily update offline sees everything the user logged.
	day, _ := time.Parse(model.DateFormat, req.Date)
	from := day.AddDate(0, 0, -3).Format(model.DateFormat)
	symptoms, err := s.db.SymptomsBetween(from, req.Date)
	if err != nil {
		s.log.WithError(err).Error("symptom query failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	queuedSym, err := s.queuedSymptoms(from, req.Date)
	if err != nil {
		s.log.WithError(err).Error("queued symptom query failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	symptoms = append(symptoms, queuedSym...)

	var tctx *tolerance.Context
	clog, err := s.db.ContextForDate(req.Date)
	if err != nil {
		s.log.WithError(err).Error("context query failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	if clog != nil {
		tctx = &tolerance.Context{
			SleepScore:  clog.SleepScore,
			StressLevel: clog.StressLevel,
			Illness:     clog.Illness,
			Alcohol:     clog.Alcohol,
		}
	} else {
		qctx, err := s.queuedContext(req.Date)
		if err != nil {
			s.log.WithError(err).Error("queued context query failed")
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if qctx != nil {
			tctx = &tolerance.Context{
				SleepScore:  qctx.SleepScore,
				StressLevel: qctx.StressLevel,
				Illness:     qctx.Illness,
				Alcohol:     qctx.Alcohol,
			}
		}
	}

	maxSev := tolerance.MaxSeverityForDate(symptoms, req.Date)
	history := tolerance.RecentHistory(symptoms, req.Date, 3)
	next := tolerance.Next(prev, maxSev, tctx, history)

	totalHU, err := s.dayTotalHU(req.Date)
	if err != nil {
		s.log.WithError(err).Error("day total failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	rollup := model.DailyRollup{
		Date: req.Date, TotalHU: totalHU,
		ToleranceBefore: prev, ToleranceAfter: next,
	}
	if err := s.db.UpsertRollup(rollup); err != nil {
		s.log.WithError(err).Error("rollup write failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	if err := s.db.SetToleranceState(model.ToleranceState{Value: next, Date: req.Date}); err != nil {
		s.log.WithError(err).Error("tolerance write failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":             req.Date,
		"max_severity":     maxSev,
		"tolerance_before": prev,
		"tolerance_after":  next,
		"total_hu":         totalHU,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.PendingCounts()
	if err != nil {
		s.log.WithError(err).Error("pending counts failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	entries := make(map[store.Kind][]store.PendingOp, len(store.Kinds))
	for _, kind := range store.Kinds {
		ops, err := s.db.ListPending(kind)
		if err != nil {
			s.log.WithError(err).Error("pending list failed")
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if ops == nil {
			ops = []store.PendingOp{}
		}
		entries[kind] = ops
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts":  counts,
		"entries": entries,
	})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	kind := store.Kind(chi.URLParam(r, "kind"))
	tempID := chi.URLParam(r, "tempID")

	switch kind {
	case store.KindMeal, store.KindContext, store.KindSymptom:
	default:
		writeError(w, http.StatusBadRequest, "kind must be meal, context or symptom")
		return
	}

	// Discard is idempotent: an absent temp id is still a success.
	if err := s.db.Discard(kind, tempID); err != nil {
		s.log.WithError(err).Error("discard failed")
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	stats, err := s.reconciler.Drain(r.Context())
	if err != nil {
		s.log.WithError(err).Error("drain failed")
		writeError(w, http.StatusInternalServerError, "drain aborted")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
