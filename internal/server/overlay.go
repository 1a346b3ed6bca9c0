package server

import (
	"encoding/json"
	"errors"

	"github.com/jmorgan/histalog/internal/hu"
	"github.com/jmorgan/histalog/internal/model"
	"github.com/jmorgan/histalog/internal/store"
)

// Queued entries participate in local views until reconciliation replaces
// them with confirmed records, so a day logged offline reads the same as
// one logged online.

// queuedMeal is a not-yet-confirmed meal as shown in local views.
type queuedMeal struct {
	TempID     string    `json:"temp_id"`
	OccurredAt string    `json:"occurred_at"`
	Totals     hu.Totals `json:"totals"`
}

// queuedMealsForDay scores the queued meals that fall on the given day
// against the cached catalog. Entries that no longer resolve are skipped
// with a warning; they will fail server-side validation at sync anyway.
func (s *Server) queuedMealsForDay(date string) ([]queuedMeal, float64, error) {
	ops, err := s.db.ListPending(store.KindMeal)
	if err != nil {
		return nil, 0, err
	}

	var queued []queuedMeal
	total := 0.0
	for _, op := range ops {
		var p model.MealPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			s.log.WithField("temp_id", op.TempID).WithError(err).Warn("skipping undecodable queued meal")
			continue
		}
		if len(p.OccurredAt) < len(model.DateFormat) || p.OccurredAt[:len(model.DateFormat)] != date {
			continue
		}
		items, err := s.db.ResolveItems(p.Items)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				s.log.WithField("temp_id", op.TempID).WithError(err).Warn("queued meal no longer resolves against catalog")
				continue
			}
			return nil, 0, err
		}
		t := hu.MealTotals(items, p.AlcoholWithMeal, p.DAOUnits)
		queued = append(queued, queuedMeal{TempID: op.TempID, OccurredAt: p.OccurredAt, Totals: t})
		total += t.Total
	}
	return queued, total, nil
}

// dayTotalHU sums confirmed and queued meal totals for a calendar day.
func (s *Server) dayTotalHU(date string) (float64, error) {
	confirmed, err := s.db.DayTotalHU(date)
	if err != nil {
		return 0, err
	}
	_, queuedTotal, err := s.queuedMealsForDay(date)
	if err != nil {
		return 0, err
	}
	return confirmed + queuedTotal, nil
}

// queuedSymptoms returns queued symptom entries with from <= date <= to,
// shaped as symptom records without a server id.
func (s *Server) queuedSymptoms(from, to string) ([]model.SymptomLog, error) {
	ops, err := s.db.ListPending(store.KindSymptom)
	if err != nil {
		return nil, err
	}

	var logs []model.SymptomLog
	for _, op := range ops {
		var p model.SymptomPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			s.log.WithField("temp_id", op.TempID).WithError(err).Warn("skipping undecodable queued symptom")
			continue
		}
		if p.Date < from || p.Date > to {
			continue
		}
		logs = append(logs, model.SymptomLog{
			Date: p.Date, Severity: p.Severity,
			LagBucket: p.LagBucket, Notes: p.Notes,
		})
	}
	return logs, nil
}

// queuedContext returns the most recently queued context entry for a day,
// or nil. Creation order makes the last enqueue win, matching the
// one-per-day replacement rule for confirmed records.
func (s *Server) queuedContext(date string) (*model.ContextPayload, error) {
	ops, err := s.db.ListPending(store.KindContext)
	if err != nil {
		return nil, err
	}

	var latest *model.ContextPayload
	for _, op := range ops {
		var p model.ContextPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			s.log.WithField("temp_id", op.TempID).WithError(err).Warn("skipping undecodable queued context")
			continue
		}
		if p.Date != date {
			continue
		}
		ctx := p
		latest = &ctx
	}
	return latest, nil
}
