package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seanankenbruck/finance-ai/internal/observability"
)

// DefaultReportSchedule runs the promotion report once a day at 03:00
const DefaultReportSchedule = "0 3 * * *"

// PromotionReporter periodically logs dynamic SQL that keeps being generated
// so it can be reviewed and turned into a template
type PromotionReporter struct {
	cron     *cron.Cron
	log      QuestionLog
	logger   *observability.Logger
	window   time.Duration
	limit    int
	now      func() time.Time
	schedule string
}

// NewPromotionReporter creates a reporter looking back over window
func NewPromotionReporter(log QuestionLog, logger *observability.Logger, schedule string, window time.Duration) (*PromotionReporter, error) {
	if schedule == "" {
		schedule = DefaultReportSchedule
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = observability.NewLogger("promotion-reporter")
	}

	r := &PromotionReporter{
		cron:     cron.New(),
		log:      log,
		logger:   logger,
		window:   window,
		limit:    20,
		now:      time.Now,
		schedule: schedule,
	}

	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = r.logger.WithOperation(ctx, "promotion_report", func(ctx context.Context) error {
			_, err := r.RunOnce(ctx)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	return r, nil
}

// WithClock overrides the time source
func (r *PromotionReporter) WithClock(now func() time.Time) *PromotionReporter {
	r.now = now
	return r
}

// Start starts the scheduler
func (r *PromotionReporter) Start() {
	r.logger.Info(context.Background(), "Promotion reporter started", map[string]interface{}{
		"schedule": r.schedule,
		"window":   r.window.String(),
	})
	r.cron.Start()
}

// Stop stops the scheduler and waits for a running report to finish
func (r *PromotionReporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunOnce logs the current promotion candidates and returns them
func (r *PromotionReporter) RunOnce(ctx context.Context) ([]Candidate, error) {
	since := r.now().Add(-r.window)
	candidates, err := r.log.PromotionCandidates(ctx, since, r.limit)
	if err != nil {
		return nil, err
	}

	r.logger.Info(ctx, "Template promotion report", map[string]interface{}{
		"since":      since.Format(time.RFC3339),
		"candidates": len(candidates),
	})
	for _, c := range candidates {
		r.logger.Info(ctx, "Template candidate", map[string]interface{}{
			"sql":       c.SQL,
			"example":   c.Example,
			"answered":  c.Answered,
			"timed_out": c.TimedOut,
			"last_seen": c.LastSeen.Format(time.RFC3339),
		})
	}
	return candidates, nil
}
