package core

import (
	"sort"
	"time"
)

type (
	// MonthSummary is the dashboard aggregate for one calendar month.
	MonthSummary struct {
		Year  int
		Month time.Month

		// Spent is the sum of all record prices in the month.
		Spent int64

		// Reimbursable is the outing-only subset of Spent, used for
		// expense-claim totals.
		Reimbursable int64

		// Remaining is BudgetLimit minus Spent. It goes negative when the
		// month is over budget; only UsagePercent is clamped.
		Remaining int64

		// UsagePercent is Spent as a share of BudgetLimit, capped at 100.
		UsagePercent int
	}

	// PlaceVisits counts outing visits to one place.
	PlaceVisits struct {
		Place  string
		Visits int
	}
)

// Summarize aggregates all records of the given month.
func Summarize(b Bundle, year int, month time.Month) MonthSummary {
	s := MonthSummary{Year: year, Month: month}
	for key, rec := range b.MealData {
		if !key.InMonth(year, month) {
			continue
		}
		s.Spent += rec.Price
		if rec.Type == Outing {
			s.Reimbursable += rec.Price
		}
	}
	s.Remaining = BudgetLimit - s.Spent
	pct := int(s.Spent * 100 / BudgetLimit)
	if pct > 100 {
		pct = 100
	}
	s.UsagePercent = pct
	return s
}

// TopPlaces ranks outing places by visit count across the whole bundle,
// most visited first. Ties break alphabetically so the order is stable.
func TopPlaces(b Bundle) []PlaceVisits {
	counts := make(map[string]int)
	for _, rec := range b.MealData {
		if rec.Type == Outing && rec.Place != "" {
			counts[rec.Place]++
		}
	}
	out := make([]PlaceVisits, 0, len(counts))
	for place, n := range counts {
		out = append(out, PlaceVisits{Place: place, Visits: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].Place < out[j].Place
	})
	return out
}
