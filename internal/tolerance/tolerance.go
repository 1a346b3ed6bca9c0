// Package tolerance implements the daily tolerance-adaptation algorithm:
// a bounded update driven by the day's worst symptom severity, contextual
// penalties and streak history, plus trend classification over the
// resulting time series. Pure functions only — no storage access.
package tolerance

import (
	"time"

	"github.com/jmorgan/histalog/internal/model"
)

// Absolute bounds and per-day movement cap for the tolerance value.
const (
	Min            = 50.0
	Max            = 250.0
	MaxDailyChange = 25.0
)

const (
	targetSeverity = 2
	alpha          = 3

	streakDays     = 3
	streakBonus    = 5
	streakCeiling  = 2
	trendWindow    = 7
	trendThreshold = 5.0
)

// Context carries the day's contextual signals. Nil pointer fields mean
// the user did not report that signal.
type Context struct {
	SleepScore  *int
	StressLevel *int
	Illness     bool
	Alcohol     bool
}

// Penalty sums the independent context penalties: poor sleep +5, high
// stress +5, illness +10, alcohol +10. A nil context contributes nothing.
func (c *Context) Penalty() float64 {
	if c == nil {
		return 0
	}
	p := 0.0
	if c.SleepScore != nil && *c.SleepScore < 50 {
		p += 5
	}
	if c.StressLevel != nil && *c.StressLevel >= 7 {
		p += 5
	}
	if c.Illness {
		p += 10
	}
	if c.Alcohol {
		p += 10
	}
	return p
}

// Next computes tomorrow's tolerance from today's. history is the
// chronological max-severity sequence for the preceding days; fewer than
// three entries simply forfeits the streak bonus.
//
// The daily-change cap applies before the absolute bounds, so a value
// near a boundary is first limited to ±25 and then clamped to [50, 250].
func Next(previous float64, maxSeverity int, ctx *Context, history []int) float64 {
	bonus := 0.0
	if goodStreak(history) {
		bonus = streakBonus
	}

	raw := previous + alpha*float64(targetSeverity-maxSeverity) - ctx.Penalty() + bonus

	capped := clamp(raw, previous-MaxDailyChange, previous+MaxDailyChange)
	return clamp(capped, Min, Max)
}

func goodStreak(history []int) bool {
	if len(history) < streakDays {
		return false
	}
	for _, sev := range history[len(history)-streakDays:] {
		if sev > streakCeiling {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MaxSeverityForDate returns the worst severity logged on the given day,
// or 0 when nothing was logged.
func MaxSeverityForDate(symptoms []model.SymptomLog, date string) int {
	max := 0
	for _, s := range symptoms {
		if s.Date == date && s.Severity > max {
			max = s.Severity
		}
	}
	return max
}

// RecentHistory returns the per-day max severity for each of the `days`
// calendar days strictly before beforeDate, oldest first. The result
// always has length days; days without entries contribute 0. A malformed
// beforeDate yields all zeros rather than an error.
func RecentHistory(symptoms []model.SymptomLog, beforeDate string, days int) []int {
	history := make([]int, days)
	day, err := time.Parse(model.DateFormat, beforeDate)
	if err != nil {
		return history
	}
	for i := 1; i <= days; i++ {
		d := day.AddDate(0, 0, -i).Format(model.DateFormat)
		history[days-i] = MaxSeverityForDate(symptoms, d)
	}
	return history
}

// Trend classifies the direction of a tolerance time series.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// TrendOf compares the mean of the first half of the last seven entries
// against the second half. Fewer than two points is always stable.
func TrendOf(history []float64) Trend {
	if len(history) < 2 {
		return TrendStable
	}
	recent := history
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}
	half := len(recent) / 2
	change := mean(recent[half:]) - mean(recent[:half])
	switch {
	case change > trendThreshold:
		return TrendImproving
	case change < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
