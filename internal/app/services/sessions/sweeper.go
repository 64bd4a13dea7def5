package sessions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bookly/service_layer/internal/app/metrics"
	"github.com/bookly/service_layer/internal/app/system"
	"github.com/bookly/service_layer/pkg/logger"
)

const defaultSweepSchedule = "@every 1m"

var _ system.Service = (*Sweeper)(nil)

// Sweeper purges expired sessions on a cron schedule.
type Sweeper struct {
	service  *Service
	log      *logger.Logger
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a lifecycle-managed sweeper. An empty schedule defaults
// to every minute.
func NewSweeper(service *Service, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("session-sweeper")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	return &Sweeper{service: service, log: log, schedule: schedule}
}

func (w *Sweeper) Name() string { return "session-sweeper" }

func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.Sweep(ctx) }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", w.schedule, err)
	}
	c.Start()
	w.cron = c
	w.running = true

	w.log.WithField("schedule", w.schedule).Info("session sweeper started")
	return nil
}

func (w *Sweeper) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	w.log.Info("session sweeper stopped")
	return nil
}

// Sweep runs one purge pass.
func (w *Sweeper) Sweep(ctx context.Context) {
	if w.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	removed, err := w.service.PurgeExpired(ctx, w.service.now())
	if err != nil {
		w.log.WithError(err).Warn("session sweep failed")
		return
	}
	metrics.RecordSessionsPurged(removed)
	if removed > 0 {
		w.log.WithField("removed", removed).Info("expired sessions purged")
	}
}
