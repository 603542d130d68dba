package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"herdcore/pkg/domain"
)

func TestGatewayScheduleAndDispatch(t *testing.T) {
	g := New()
	ctx := context.Background()
	base := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	if err := g.ScheduleNotification(ctx, domain.Reminder{ID: "b"}, base.AddDate(0, 0, 5)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := g.ScheduleNotification(ctx, domain.Reminder{ID: "a"}, base.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := g.Scheduled(); len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("unexpected schedule order %+v", got)
	}
	n, _ := g.DispatchDue(ctx, base.AddDate(0, 0, 1))
	if n != 1 || len(g.Sent()) != 1 || g.Sent()[0].ID != "a" {
		t.Fatalf("expected a dispatched, got %d %+v", n, g.Sent())
	}
	if got := g.Scheduled(); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected b pending, got %+v", got)
	}
}

func TestGatewayFailWith(t *testing.T) {
	g := New()
	boom := errors.New("gateway down")
	g.FailWith(boom)
	if err := g.NotifyNow(context.Background(), domain.Reminder{ID: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := g.ScheduleNotification(context.Background(), domain.Reminder{ID: "x"}, time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	g.FailWith(nil)
	if err := g.NotifyNow(context.Background(), domain.Reminder{ID: "x"}); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}
