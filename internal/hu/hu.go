// Package hu implements the histamine unit scoring formulas: per-item
// load, meal aggregation with DAO credit, and gauge classification.
// Everything here is a pure function over catalog data — no I/O, no state.
package hu

import (
	"fmt"
	"math"

	"github.com/jmorgan/histalog/internal/model"
)

const (
	liberatorMult = 1.2
	blockerMult   = 1.3
	creditRate    = 0.3
)

// BandMgPerServe maps a histamine band to milligrams per typical serve.
func BandMgPerServe(b model.Band) float64 {
	switch b {
	case model.BandLow:
		return 0.2
	case model.BandMedium:
		return 1.0
	case model.BandHigh:
		return 4.0
	case model.BandVeryHigh:
		return 10.0
	}
	return 0
}

// ItemHU computes the histamine units for a single portion of food.
// grams must be positive; that contract is enforced by payload validation
// before anything reaches this function.
//
// The DAO blocker multiplier does not stack: a blocker food eaten with
// alcohol still gets 1.3, not 1.3 squared.
func ItemHU(food model.Food, grams, handlingMult float64, alcoholWithMeal bool) float64 {
	var mg float64
	switch basis := food.Basis(); basis.Kind {
	case model.BasisMeasured:
		mg = basis.MgPerKg * grams / 1000
	case model.BasisBanded:
		mg = BandMgPerServe(basis.Band) * (grams / basis.TypicalServeG)
	case model.BasisNone:
		mg = 0
	}

	lib := 1.0
	if food.Liberator {
		lib = liberatorMult
	}
	blk := 1.0
	if food.DAOBlocker || alcoholWithMeal {
		blk = blockerMult
	}
	return mg * handlingMult * lib * blk
}

// DAOCredit returns how much of a meal's subtotal an enzyme-support dose
// offsets: at most 30% of the dose and at most 30% of the meal's own
// subtotal, whichever is smaller.
func DAOCredit(subtotal, daoUnits float64) float64 {
	return math.Min(creditRate*daoUnits, creditRate*subtotal)
}

// Item pairs a food with its portion and optional handling for meal
// aggregation. A nil Handling means multiplier 1.0.
type Item struct {
	Food     model.Food
	Grams    float64
	Handling *model.HandlingModifier
}

// Totals is the result of scoring a meal. Items is positionally aligned
// with the input item sequence.
type Totals struct {
	Items    []float64 `json:"items"`
	Subtotal float64   `json:"subtotal"`
	Credit   float64   `json:"dao_credit"`
	Total    float64   `json:"total"`
}

// MealTotals scores each item, sums the subtotal, applies the DAO credit
// and returns the clamped total. Recomputation over the same inputs always
// yields the same result.
func MealTotals(items []Item, alcoholWithMeal bool, daoUnits float64) Totals {
	perItem := make([]float64, len(items))
	subtotal := 0.0
	for i, it := range items {
		mult := 1.0
		if it.Handling != nil {
			mult = it.Handling.Multiplier
		}
		perItem[i] = ItemHU(it.Food, it.Grams, mult, alcoholWithMeal)
		subtotal += perItem[i]
	}
	credit := DAOCredit(subtotal, daoUnits)
	return Totals{
		Items:    perItem,
		Subtotal: subtotal,
		Credit:   credit,
		Total:    math.Max(0, subtotal-credit),
	}
}

// Gauge is the three-level classification of load against tolerance.
type Gauge string

const (
	GaugeGreen Gauge = "green"
	GaugeAmber Gauge = "amber"
	GaugeRed   Gauge = "red"
)

// GaugeColor classifies total load against the daily tolerance.
// tolerance must be positive; callers guard that before calling.
func GaugeColor(total, tolerance float64) Gauge {
	ratio := total / tolerance
	switch {
	case ratio <= 0.7:
		return GaugeGreen
	case ratio <= 0.9:
		return GaugeAmber
	default:
		return GaugeRed
	}
}

// FormatHU renders a score for display: two decimals under 1, one decimal
// under 10, whole numbers above.
func FormatHU(v float64) string {
	switch {
	case v < 1:
		return fmt.Sprintf("%.2f", v)
	case v < 10:
		return fmt.Sprintf("%.1f", v)
	default:
		return fmt.Sprintf("%d", int(math.Round(v)))
	}
}
