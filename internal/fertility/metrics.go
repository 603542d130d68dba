// Package fertility computes reproduction metrics from an animal's event history.
// All functions are pure: they take events and return values.
package fertility

import (
	"sort"
	"time"

	"herdcore/pkg/domain"
)

// Trend classifies a fertility rate.
type Trend string

// Fertility trends.
const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Trend thresholds in percent.
const (
	improvingAbove = 75.0
	stableFrom     = 50.0
)

// Window bounds which events are considered. Zero times leave that side open.
type Window struct {
	From             time.Time
	To               time.Time
	IncludeFertility bool
}

func (w Window) contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// ReproductionMetrics summarises one animal's history.
type ReproductionMetrics struct {
	AnimalID               string                   `json:"animal_id"`
	EventCounts            map[domain.EventType]int `json:"event_counts"`
	Inseminations          int                      `json:"inseminations"`
	ConfirmedPregnancies   int                      `json:"confirmed_pregnancies"`
	FertilityRate          float64                  `json:"fertility_rate"`
	ServicesPerConception  float64                  `json:"services_per_conception"`
	AverageCalvingInterval float64                  `json:"average_calving_interval_days"`
	TotalCalves            int                      `json:"total_calves"`
	FertilityTrend         *Trend                   `json:"fertility_trend,omitempty"`

	frequency map[domain.EventType]float64
}

// EventFrequency returns the mean number of days between consecutive events
// of type t, or 0 with fewer than two such events.
func (m ReproductionMetrics) EventFrequency(t domain.EventType) float64 {
	return m.frequency[t]
}

// ComputeMetrics derives metrics for animalID from events. Events belonging to
// other animals, planned entries and events outside the window are ignored.
func ComputeMetrics(animalID string, events []domain.ReproductiveEvent, window Window) ReproductionMetrics {
	byType := make(map[domain.EventType][]time.Time)
	counts := make(map[domain.EventType]int)
	confirmed := 0
	for _, e := range events {
		if e.AnimalID != animalID || e.Planned || !window.contains(e.EventDate) {
			continue
		}
		counts[e.Type]++
		byType[e.Type] = append(byType[e.Type], e.EventDate)
		if check, ok := e.PregnancyCheck(); ok && check.Status == domain.PregnancyConfirmed {
			confirmed++
		}
	}

	m := ReproductionMetrics{
		AnimalID:             animalID,
		EventCounts:          counts,
		Inseminations:        counts[domain.EventInsemination],
		ConfirmedPregnancies: confirmed,
		TotalCalves:          counts[domain.EventBirth],
		frequency:            make(map[domain.EventType]float64, len(byType)),
	}
	m.FertilityRate = FertilityRate(confirmed, m.Inseminations)
	if confirmed > 0 {
		m.ServicesPerConception = float64(m.Inseminations) / float64(confirmed)
	}
	for t, dates := range byType {
		m.frequency[t] = meanGapDays(dates)
	}
	m.AverageCalvingInterval = m.frequency[domain.EventBirth]
	if window.IncludeFertility {
		trend := ClassifyTrend(m.FertilityRate)
		m.FertilityTrend = &trend
	}
	return m
}

// FertilityRate returns 100 * confirmed / inseminations clamped to [0, 100],
// or 0 when there were no inseminations.
func FertilityRate(confirmed, inseminations int) float64 {
	if inseminations <= 0 || confirmed <= 0 {
		return 0
	}
	rate := 100 * float64(confirmed) / float64(inseminations)
	if rate > 100 {
		return 100
	}
	return rate
}

// ClassifyTrend maps a fertility rate onto a trend.
func ClassifyTrend(rate float64) Trend {
	switch {
	case rate > improvingAbove:
		return TrendImproving
	case rate >= stableFrom:
		return TrendStable
	default:
		return TrendDeclining
	}
}

func meanGapDays(dates []time.Time) float64 {
	if len(dates) < 2 {
		return 0
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	total := 0
	for i := 1; i < len(sorted); i++ {
		total += domain.DaysBetween(sorted[i-1], sorted[i])
	}
	return float64(total) / float64(len(sorted)-1)
}

// HerdSummary aggregates per-animal metrics.
type HerdSummary struct {
	Animals                    int     `json:"animals"`
	Inseminations              int     `json:"inseminations"`
	ConfirmedPregnancies       int     `json:"confirmed_pregnancies"`
	TotalCalves                int     `json:"total_calves"`
	FertilityRate              float64 `json:"fertility_rate"`
	AverageCalvingInterval     float64 `json:"average_calving_interval_days"`
	AnimalsWithCalvingInterval int     `json:"animals_with_calving_interval"`
	Trend                      Trend   `json:"trend"`
}

// Summarize pools counts across animals. The herd fertility rate is computed
// from pooled totals; the calving interval averages animals that have one.
func Summarize(metrics ...ReproductionMetrics) HerdSummary {
	var s HerdSummary
	intervalSum := 0.0
	for _, m := range metrics {
		s.Animals++
		s.Inseminations += m.Inseminations
		s.ConfirmedPregnancies += m.ConfirmedPregnancies
		s.TotalCalves += m.TotalCalves
		if m.AverageCalvingInterval > 0 {
			intervalSum += m.AverageCalvingInterval
			s.AnimalsWithCalvingInterval++
		}
	}
	s.FertilityRate = FertilityRate(s.ConfirmedPregnancies, s.Inseminations)
	if s.AnimalsWithCalvingInterval > 0 {
		s.AverageCalvingInterval = intervalSum / float64(s.AnimalsWithCalvingInterval)
	}
	s.Trend = ClassifyTrend(s.FertilityRate)
	return s
}
