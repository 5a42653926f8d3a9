package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dersa/ecoquality/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries authorization decisions.
	QueueAudit = "audit"
	// TaskAuditDecision persists one authorization decision.
	TaskAuditDecision = "audit:decision"
	// TaskAuditPrune deletes decision rows past the retention window.
	TaskAuditPrune = "audit:prune"
)

// NewDecisionTask constructs an Asynq task carrying a decision.
func NewDecisionTask(d rbac.Decision) (*asynq.Task, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDecision, data, asynq.Queue(QueueAudit), asynq.MaxRetry(5)), nil
}

// AuditPrunePayload configures a prune run.
type AuditPrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditPruneTask constructs the retention task.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
