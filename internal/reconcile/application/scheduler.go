package application

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-co-op/gocron"

	"windgen-cloud/internal/reconcile/notify"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

const scheduledRunTimeout = 2 * time.Hour

// Scheduler triggers a daily reconcile of recent days for configured sources.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *Service
	cfg       ScheduleConfig
	notifier  notify.Notifier
	logger    *log.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNotifier alerts on scheduled runs that fail or leave failed sub-periods.
func WithNotifier(n notify.Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = n }
}

// NewScheduler constructs a Scheduler.
func NewScheduler(service *Service, cfg ScheduleConfig, logger *log.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	sched := &Scheduler{
		scheduler: s,
		service:   service,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Start schedules the daily job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s == nil || s.service == nil {
		return nil
	}
	if len(s.cfg.Sources) == 0 {
		s.logger.Println("reconcile scheduler: no sources configured; nothing to schedule")
		return nil
	}
	if _, err := parseDailyAt(s.cfg.DailyAt); err != nil {
		return err
	}
	_, err := s.scheduler.Every(1).Day().At(s.cfg.DailyAt).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
		defer cancel()
		s.RunOnce(ctx, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	if s != nil && s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RunOnce reconciles the lookback window ending at the UTC day of now.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) []Result {
	reqs := s.Requests(now)
	if len(reqs) == 0 {
		return nil
	}
	results, err := s.service.ReconcileMany(ctx, reqs)
	if err != nil {
		s.logger.Printf("reconcile schedule error: %v", err)
	}
	s.alert(ctx, results)
	return results
}

func (s *Scheduler) alert(ctx context.Context, results []Result) {
	if s.notifier == nil {
		return
	}
	for _, r := range results {
		if r.FailedSubPeriods == 0 && r.Errored == 0 && r.Error == "" {
			continue
		}
		msg := notify.AlertMessage{
			RunID:             r.RunID,
			Source:            string(r.Source),
			Mode:              string(r.Mode),
			From:              r.From,
			To:                r.To,
			FailedSubPeriods:  r.FailedSubPeriods,
			GapsFound:         r.GapsFound,
			MappingErrors:     r.MappingErrors,
			Error:             r.Error,
			RecommendedAction: "rerun with mode=full for the range once the store is healthy",
		}
		if r.Error != "" {
			msg.RecommendedAction = "check unit metadata and source configuration"
		}
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.Printf("reconcile schedule: notify error: %v", err)
		}
	}
}

// Requests builds the scheduled requests for now.
func (s *Scheduler) Requests(now time.Time) []Request {
	lookback := s.cfg.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	mode := s.cfg.Mode
	if mode == "" {
		mode = ModeGapsOnly
	}
	now = now.UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -lookback)
	var reqs []Request
	for _, source := range s.cfg.Sources {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		reqs = append(reqs, Request{
			Source: telemetry.Source(strings.ToUpper(source)),
			Scope:  Scope{From: from, To: to},
			Mode:   mode,
		})
	}
	return reqs
}

func parseDailyAt(value string) (time.Time, error) {
	return time.Parse("15:04", value)
}
