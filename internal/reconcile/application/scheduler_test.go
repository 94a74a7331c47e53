package application

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"windgen-cloud/internal/reconcile/notify"
)

func TestSchedulerRequestsLookback(t *testing.T) {
	s := NewScheduler(nil, ScheduleConfig{DailyAt: "03:00", Sources: []string{"entsoe", " ", "ELEXON"}, LookbackDays: 3}, nil)
	reqs := s.Requests(time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC))
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	want := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	if reqs[0].Source != "ENTSOE" || !reqs[0].Scope.From.Equal(want) || !reqs[0].Scope.To.Equal(want.AddDate(0, 0, 3)) {
		t.Fatalf("unexpected request %+v", reqs[0])
	}
	if reqs[1].Mode != ModeGapsOnly {
		t.Fatalf("expected gaps_only by default, got %s", reqs[1].Mode)
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	f := newFixture(t)
	f.seedHours(t, "48W-A", march4, 48, 50)
	s := NewScheduler(f.svc, ScheduleConfig{Sources: []string{"ENTSOE"}, LookbackDays: 2, Mode: ModeFull}, log.New(io.Discard, "", 0))
	results := s.RunOnce(context.Background(), march4.AddDate(0, 0, 2).Add(3*time.Hour))
	if len(results) != 1 || results[0].CanonicalWritten != 48 {
		t.Fatalf("unexpected scheduled results %+v", results)
	}
	if err := NewScheduler(f.svc, ScheduleConfig{}, log.New(io.Discard, "", 0)).Start(); err != nil {
		t.Fatalf("start without sources: %v", err)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.AlertMessage
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.AlertMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func TestSchedulerAlertsOnScopeFailure(t *testing.T) {
	f := newFixture(t)
	f.seedHours(t, "48W-A", march4, 24, 50)
	n := &recordingNotifier{}
	cfg := ScheduleConfig{Sources: []string{"ENTSOE", "nordpool"}, LookbackDays: 1, Mode: ModeFull}
	s := NewScheduler(f.svc, cfg, log.New(io.Discard, "", 0), WithNotifier(n))
	results := s.RunOnce(context.Background(), march4.AddDate(0, 0, 1))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(n.msgs) != 1 {
		t.Fatalf("expected one alert, got %+v", n.msgs)
	}
	if n.msgs[0].Source != "NORDPOOL" || n.msgs[0].Error == "" {
		t.Fatalf("expected NORDPOOL scope alert, got %+v", n.msgs[0])
	}
}
