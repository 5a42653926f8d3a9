package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dersa/ecoquality/internal/audit"
	jobmetrics "github.com/dersa/ecoquality/internal/jobs"
	"github.com/dersa/ecoquality/internal/rbac"
)

// DecisionJob writes queued authorization decisions into audit_logs.
type DecisionJob struct {
	Store   audit.LogStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDecisionJob initialises the decision handler.
func NewDecisionJob(store audit.LogStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *DecisionJob {
	return &DecisionJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditDecision tasks.
func (j *DecisionJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("audit decision: handler not configured")
	}
	var d rbac.Decision
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return fmt.Errorf("audit decision: decode: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskAuditDecision)
	defer func() { err = tracker.End(err) }()

	if err := j.Store.Record(ctx, audit.DecisionLog(d)); err != nil {
		j.logger().Warn("audit decision persist", slog.String("permission", d.Permission), slog.Any("error", err))
		return err
	}
	j.Metrics.AddAudited(d.Allowed, 1)
	return nil
}

func (j *DecisionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
