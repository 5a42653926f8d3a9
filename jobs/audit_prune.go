package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"

	jobmetrics "github.com/dersa/ecoquality/internal/jobs"
)

const defaultAuditRetention = 90 * 24 * time.Hour

// Execer is the slice of pgxpool.Pool used by the prune job.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditPruneJob removes authz decision rows older than the retention window.
// Administrative change records are kept.
type AuditPruneJob struct {
	DB      Execer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditPruneJob initialises the prune handler.
func NewAuditPruneJob(db Execer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{
		DB:      db,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the prune.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.DB == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("audit prune: decode: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Retention <= 0 {
		payload.Retention = defaultAuditRetention
	}
	tracker := j.Metrics.Track(TaskAuditPrune)
	defer func() { err = tracker.End(err) }()

	cutoff := j.clock().Add(-payload.Retention)
	tag, err := j.DB.Exec(ctx, `DELETE FROM audit_logs WHERE action LIKE 'authz.%' AND occurred_at < $1`, cutoff)
	if err != nil {
		return err
	}
	j.Metrics.AddPruned(tag.RowsAffected())
	if j.Logger != nil {
		j.Logger.Info("audit prune", slog.Int64("deleted", tag.RowsAffected()), slog.Time("cutoff", cutoff))
	}
	return nil
}
