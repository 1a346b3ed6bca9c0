package model

import (
	"errors"
	"testing"
)

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func TestBasisMeasuredWins(t *testing.T) {
	food := Food{ID: "f1", BaseMgPerKg: f64(120), Band: BandHigh, TypicalServeG: f64(30)}
	b := food.Basis()
	if b.Kind != BasisMeasured {
		t.Fatalf("Kind = %v, want BasisMeasured", b.Kind)
	}
	if b.MgPerKg != 120 {
		t.Errorf("MgPerKg = %v, want 120", b.MgPerKg)
	}
}

func TestBasisBanded(t *testing.T) {
	food := Food{ID: "f1", Band: BandHigh, TypicalServeG: f64(30)}
	b := food.Basis()
	if b.Kind != BasisBanded {
		t.Fatalf("Kind = %v, want BasisBanded", b.Kind)
	}
	if b.Band != BandHigh || b.TypicalServeG != 30 {
		t.Errorf("got band=%q serve=%v", b.Band, b.TypicalServeG)
	}
}

func TestBasisNone(t *testing.T) {
	cases := []Food{
		{ID: "bare"},
		{ID: "band-only", Band: BandHigh},
		{ID: "serve-only", TypicalServeG: f64(30)},
		{ID: "bad-band", Band: "extreme", TypicalServeG: f64(30)},
		{ID: "zero-serve", Band: BandLow, TypicalServeG: f64(0)},
	}
	for _, food := range cases {
		if b := food.Basis(); b.Kind != BasisNone {
			t.Errorf("%s: Kind = %v, want BasisNone", food.ID, b.Kind)
		}
	}
}

func TestMealPayloadValidate(t *testing.T) {
	good := MealPayload{
		OccurredAt: "2026-08-30T12:30:00Z",
		Items:      []MealItem{{FoodID: "f1", Grams: 100}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*MealPayload)
	}{
		{"missing timestamp", func(p *MealPayload) { p.OccurredAt = "" }},
		{"bad timestamp", func(p *MealPayload) { p.OccurredAt = "yesterday" }},
		{"no items", func(p *MealPayload) { p.Items = nil }},
		{"zero grams", func(p *MealPayload) { p.Items[0].Grams = 0 }},
		{"negative grams", func(p *MealPayload) { p.Items[0].Grams = -10 }},
		{"missing food id", func(p *MealPayload) { p.Items[0].FoodID = "" }},
		{"negative dao units", func(p *MealPayload) { p.DAOUnits = -1 }},
	}
	for _, tc := range cases {
		p := MealPayload{
			OccurredAt: "2026-08-30T12:30:00Z",
			Items:      []MealItem{{FoodID: "f1", Grams: 100}},
		}
		tc.mut(&p)
		err := p.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: error %T is not a ValidationError", tc.name, err)
		}
	}
}

func TestContextPayloadValidate(t *testing.T) {
	good := ContextPayload{Date: "2026-08-30", SleepScore: i(80), StressLevel: i(3)}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	bad := []ContextPayload{
		{Date: "30/08/2026"},
		{Date: "2026-08-30", SleepScore: i(150)},
		{Date: "2026-08-30", StressLevel: i(11)},
		{Date: "2026-08-30", DAOUnits: -2},
	}
	for idx, p := range bad {
		if p.Validate() == nil {
			t.Errorf("case %d: expected error", idx)
		}
	}
}

func TestSymptomPayloadValidate(t *testing.T) {
	good := SymptomPayload{Date: "2026-08-30", Severity: 4, LagBucket: Lag2to6h}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	bad := []SymptomPayload{
		{Date: "not-a-date", Severity: 4, LagBucket: LagImmediate},
		{Date: "2026-08-30", Severity: 11, LagBucket: LagImmediate},
		{Date: "2026-08-30", Severity: -1, LagBucket: LagImmediate},
		{Date: "2026-08-30", Severity: 4, LagBucket: "next week"},
	}
	for idx, p := range bad {
		if p.Validate() == nil {
			t.Errorf("case %d: expected error", idx)
		}
	}
}
