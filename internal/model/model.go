// Package model defines the shared domain types: catalog entries, meal and
// log payloads, synced records, and the validation error type. The scoring
// and tolerance engines consume these types but the package itself has no
// behavior beyond validation.
package model

import (
	"fmt"
	"time"
)

// DateFormat is the calendar-day format used throughout: YYYY-MM-DD.
const DateFormat = "2006-01-02"

// Band is the coarse histamine classification used when no measured
// concentration is available for a food.
type Band string

const (
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandVeryHigh Band = "very_high"
)

// Valid reports whether b is one of the four enumerated bands.
func (b Band) Valid() bool {
	switch b {
	case BandLow, BandMedium, BandHigh, BandVeryHigh:
		return true
	}
	return false
}

// Confidence tags how reliable a catalog entry's data is.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// LagBucket classifies how long after a meal symptoms appeared.
type LagBucket string

const (
	LagImmediate LagBucket = "immediate"
	Lag2to6h     LagBucket = "2-6h"
	Lag6to24h    LagBucket = "6-24h"
)

// Valid reports whether l is an enumerated lag bucket.
func (l LagBucket) Valid() bool {
	switch l {
	case LagImmediate, Lag2to6h, Lag6to24h:
		return true
	}
	return false
}

// Food is a catalog entry. Immutable from the engines' perspective;
// rows are replaced wholesale by catalog refresh.
type Food struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Category      string     `json:"category,omitempty"`
	BaseMgPerKg   *float64   `json:"base_mg_per_kg,omitempty"`
	Band          Band       `json:"band,omitempty"`
	Liberator     bool       `json:"liberator"`
	DAOBlocker    bool       `json:"dao_blocker"`
	TypicalServeG *float64   `json:"typical_serve_g,omitempty"`
	Confidence    Confidence `json:"confidence"`
	Notes         string     `json:"notes,omitempty"`
}

// BasisKind discriminates how a food's histamine content is known.
type BasisKind int

const (
	// BasisNone means no usable data; the item contributes zero load.
	BasisNone BasisKind = iota
	// BasisMeasured means a measured mg-per-kg concentration is available.
	BasisMeasured
	// BasisBanded means only a coarse band plus a typical serve size is
	// available and the load must be scaled by portion.
	BasisBanded
)

// Basis is the resolved scoring basis for a food. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Basis struct {
	Kind          BasisKind
	MgPerKg       float64 // BasisMeasured
	Band          Band    // BasisBanded
	TypicalServeG float64 // BasisBanded
}

// Basis resolves which data the scoring engine may use for this food.
// A measured concentration always wins over the band; a band without a
// typical serve size cannot be scaled and yields BasisNone.
func (f Food) Basis() Basis {
	if f.BaseMgPerKg != nil {
		return Basis{Kind: BasisMeasured, MgPerKg: *f.BaseMgPerKg}
	}
	if f.Band.Valid() && f.TypicalServeG != nil && *f.TypicalServeG > 0 {
		return Basis{Kind: BasisBanded, Band: f.Band, TypicalServeG: *f.TypicalServeG}
	}
	return Basis{Kind: BasisNone}
}

// HandlingModifier is reference data for how a food was handled
// (leftovers, canning, ...). Multiplier applies multiplicatively to the
// item's load and is always positive.
type HandlingModifier struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Multiplier float64 `json:"multiplier"`
}

// MealItem is one line of a meal as entered by the user.
type MealItem struct {
	FoodID     string  `json:"food_id"`
	Grams      float64 `json:"grams"`
	HandlingID string  `json:"handling_id,omitempty"`
}

// MealPayload is the queued form of a new meal. Payloads are immutable
// once queued; resubmission always sends the original bytes.
type MealPayload struct {
	OccurredAt      string     `json:"occurred_at"`
	Items           []MealItem `json:"items"`
	AlcoholWithMeal bool       `json:"alcohol_with_meal"`
	DAOUnits        float64    `json:"dao_units"`
}

// ContextPayload is the queued form of a daily context entry.
type ContextPayload struct {
	Date        string  `json:"date"`
	SleepScore  *int    `json:"sleep_score,omitempty"`
	StressLevel *int    `json:"stress_level,omitempty"`
	Illness     bool    `json:"illness"`
	Alcohol     bool    `json:"alcohol"`
	DAOUnits    float64 `json:"dao_units"`
}

// SymptomPayload is the queued form of a symptom entry.
type SymptomPayload struct {
	Date      string    `json:"date"`
	Severity  int       `json:"severity"`
	LagBucket LagBucket `json:"lag_bucket"`
	Notes     string    `json:"notes,omitempty"`
}

// Meal is a synced meal record under a server-assigned identifier.
type Meal struct {
	ID              string  `json:"id"`
	OccurredAt      string  `json:"occurred_at"`
	AlcoholWithMeal bool    `json:"alcohol_with_meal"`
	DAOUnits        float64 `json:"dao_units"`
	TotalHU         float64 `json:"total_hu"`
}

// MealRecordItem is one stored line of a synced meal. Idx preserves the
// input order so per-item scores stay aligned with what the user entered.
type MealRecordItem struct {
	MealID     string  `json:"meal_id"`
	Idx        int     `json:"idx"`
	FoodID     string  `json:"food_id"`
	Grams      float64 `json:"grams"`
	HandlingID string  `json:"handling_id,omitempty"`
	ComputedHU float64 `json:"computed_hu"`
}

// ContextLog is a synced daily context record. One per calendar day;
// a later write for the same day wins.
type ContextLog struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	SleepScore  *int    `json:"sleep_score,omitempty"`
	StressLevel *int    `json:"stress_level,omitempty"`
	Illness     bool    `json:"illness"`
	Alcohol     bool    `json:"alcohol"`
	DAOUnits    float64 `json:"dao_units"`
}

// SymptomLog is a synced symptom record. Multiple entries per day are
// allowed; the tolerance engine consumes only the day's maximum severity.
type SymptomLog struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Severity  int       `json:"severity"`
	LagBucket LagBucket `json:"lag_bucket"`
	Notes     string    `json:"notes,omitempty"`
}

// ToleranceState is the per-user adaptive daily threshold. Value evolves
// once per day; Date records the last day the update ran.
type ToleranceState struct {
	Value float64 `json:"value"`
	Date  string  `json:"date"`
}

// DailyRollup records one day's total load and the tolerance transition,
// persisted when the daily update runs. Feeds trend classification.
type DailyRollup struct {
	Date            string  `json:"date"`
	TotalHU         float64 `json:"total_hu"`
	ToleranceBefore float64 `json:"tolerance_before"`
	ToleranceAfter  float64 `json:"tolerance_after"`
}

// ValidationError rejects a payload before it is queued. Field names the
// offending input, Reason says what was wrong with it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validDate(s string) bool {
	_, err := time.Parse(DateFormat, s)
	return err == nil
}

// Validate checks the structural invariants of a meal payload. Catalog
// identifier existence is checked separately against the reference cache.
func (p MealPayload) Validate() error {
	if p.OccurredAt == "" {
		return &ValidationError{Field: "occurred_at", Reason: "required"}
	}
	if _, err := time.Parse(time.RFC3339, p.OccurredAt); err != nil {
		return &ValidationError{Field: "occurred_at", Reason: "not an RFC3339 timestamp"}
	}
	if len(p.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}
	for i, it := range p.Items {
		if it.FoodID == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].food_id", i), Reason: "required"}
		}
		if it.Grams <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].grams", i), Reason: "must be positive"}
		}
	}
	if p.DAOUnits < 0 {
		return &ValidationError{Field: "dao_units", Reason: "must be non-negative"}
	}
	return nil
}

// Validate checks the structural invariants of a context payload.
func (p ContextPayload) Validate() error {
	if !validDate(p.Date) {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	if p.SleepScore != nil && (*p.SleepScore < 0 || *p.SleepScore > 100) {
		return &ValidationError{Field: "sleep_score", Reason: "must be 0-100"}
	}
	if p.StressLevel != nil && (*p.StressLevel < 0 || *p.StressLevel > 10) {
		return &ValidationError{Field: "stress_level", Reason: "must be 0-10"}
	}
	if p.DAOUnits < 0 {
		return &ValidationError{Field: "dao_units", Reason: "must be non-negative"}
	}
	return nil
}

// Validate checks the structural invariants of a symptom payload.
func (p SymptomPayload) Validate() error {
	if !validDate(p.Date) {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	if p.Severity < 0 || p.Severity > 10 {
		return &ValidationError{Field: "severity", Reason: "must be 0-10"}
	}
	if !p.LagBucket.Valid() {
		return &ValidationError{Field: "lag_bucket", Reason: "must be immediate, 2-6h or 6-24h"}
	}
	return nil
}
