package fertility

import (
	"math"
	"testing"
	"time"

	"herdcore/pkg/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ev(animal string, t domain.EventType, at time.Time) domain.ReproductiveEvent {
	return domain.ReproductiveEvent{AnimalID: animal, Type: t, EventDate: at}
}

func check(animal string, at time.Time, status domain.PregnancyStatus) domain.ReproductiveEvent {
	e := ev(animal, domain.EventPregnancyCheck, at)
	e.Details = domain.PregnancyCheckDetails{Status: status}
	return e
}

func TestComputeMetricsFertilityRate(t *testing.T) {
	events := []domain.ReproductiveEvent{
		ev("cow", domain.EventInsemination, day(2024, time.January, 1)),
		ev("cow", domain.EventInsemination, day(2024, time.January, 22)),
		ev("cow", domain.EventInsemination, day(2024, time.February, 12)),
		ev("cow", domain.EventInsemination, day(2024, time.March, 4)),
		check("cow", day(2024, time.April, 5), domain.PregnancyConfirmed),
		check("cow", day(2024, time.February, 1), domain.PregnancyNegative),
		ev("other", domain.EventInsemination, day(2024, time.January, 3)),
	}
	m := ComputeMetrics("cow", events, Window{IncludeFertility: true})
	if m.FertilityRate != 25 {
		t.Fatalf("expected 25%%, got %v", m.FertilityRate)
	}
	if m.ServicesPerConception != 4 {
		t.Fatalf("expected 4 services per conception, got %v", m.ServicesPerConception)
	}
	if m.EventCounts[domain.EventPregnancyCheck] != 2 || m.Inseminations != 4 {
		t.Fatalf("unexpected counts %+v", m.EventCounts)
	}
	if m.FertilityTrend == nil || *m.FertilityTrend != TrendDeclining {
		t.Fatalf("expected declining trend, got %v", m.FertilityTrend)
	}
	if got := m.EventFrequency(domain.EventInsemination); got != 21 {
		t.Fatalf("expected 21 day insemination frequency, got %v", got)
	}
}

func TestComputeMetricsNoInseminations(t *testing.T) {
	m := ComputeMetrics("cow", []domain.ReproductiveEvent{check("cow", day(2024, time.April, 5), domain.PregnancyConfirmed)}, Window{})
	if m.FertilityRate != 0 {
		t.Fatalf("expected 0 without inseminations, got %v", m.FertilityRate)
	}
	if m.FertilityTrend != nil {
		t.Fatalf("trend must be omitted unless requested")
	}
}

func TestFertilityRateIsClamped(t *testing.T) {
	if got := FertilityRate(3, 1); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
	if got := FertilityRate(0, 5); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestAverageCalvingInterval(t *testing.T) {
	events := []domain.ReproductiveEvent{
		ev("cow", domain.EventBirth, day(2024, time.February, 5)),
		ev("cow", domain.EventBirth, day(2023, time.January, 1)),
	}
	m := ComputeMetrics("cow", events, Window{})
	if m.AverageCalvingInterval != 400 {
		t.Fatalf("expected 400 days, got %v", m.AverageCalvingInterval)
	}
	if m.TotalCalves != 2 {
		t.Fatalf("expected 2 calves, got %d", m.TotalCalves)
	}
	single := ComputeMetrics("cow", events[:1], Window{})
	if single.AverageCalvingInterval != 0 {
		t.Fatalf("expected 0 with a single birth, got %v", single.AverageCalvingInterval)
	}
}

func TestWindowAndPlannedFiltering(t *testing.T) {
	planned := ev("cow", domain.EventInsemination, day(2024, time.June, 1))
	planned.Planned = true
	events := []domain.ReproductiveEvent{
		ev("cow", domain.EventInsemination, day(2023, time.December, 31)),
		ev("cow", domain.EventInsemination, day(2024, time.January, 15)),
		planned,
	}
	m := ComputeMetrics("cow", events, Window{From: day(2024, time.January, 1), To: day(2024, time.December, 31)})
	if m.Inseminations != 1 {
		t.Fatalf("expected 1 insemination in window, got %d", m.Inseminations)
	}
}

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		rate float64
		want Trend
	}{
		{100, TrendImproving},
		{75.1, TrendImproving},
		{75, TrendStable},
		{50, TrendStable},
		{49.9, TrendDeclining},
		{0, TrendDeclining},
	}
	for _, tc := range cases {
		if got := ClassifyTrend(tc.rate); got != tc.want {
			t.Fatalf("rate %v: expected %s, got %s", tc.rate, tc.want, got)
		}
	}
}

func TestSummarize(t *testing.T) {
	a := ComputeMetrics("a", []domain.ReproductiveEvent{
		ev("a", domain.EventInsemination, day(2024, time.January, 1)),
		check("a", day(2024, time.February, 1), domain.PregnancyConfirmed),
		ev("a", domain.EventBirth, day(2023, time.January, 1)),
		ev("a", domain.EventBirth, day(2024, time.February, 5)),
	}, Window{})
	b := ComputeMetrics("b", []domain.ReproductiveEvent{
		ev("b", domain.EventInsemination, day(2024, time.January, 1)),
		ev("b", domain.EventInsemination, day(2024, time.January, 22)),
		check("b", day(2024, time.February, 25), domain.PregnancyConfirmed),
	}, Window{})
	s := Summarize(a, b)
	if s.Animals != 2 || s.Inseminations != 3 || s.ConfirmedPregnancies != 2 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if math.Abs(s.FertilityRate-200.0/3) > 1e-9 {
		t.Fatalf("unexpected pooled rate %v", s.FertilityRate)
	}
	if s.AverageCalvingInterval != 400 || s.AnimalsWithCalvingInterval != 1 {
		t.Fatalf("unexpected interval summary %+v", s)
	}
	if s.Trend != TrendStable {
		t.Fatalf("expected stable, got %s", s.Trend)
	}
	if empty := Summarize(); empty.FertilityRate != 0 || empty.Trend != TrendDeclining {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}
