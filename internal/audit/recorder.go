package audit

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/shared"
)

const writeTimeout = 5 * time.Second

// DecisionWriter delivers one decision to its destination.
type DecisionWriter interface {
	WriteDecision(ctx context.Context, d rbac.Decision) error
}

// Recorder is a buffered, non-blocking rbac.DecisionSink. Decisions that do
// not fit in the buffer are dropped and counted.
type Recorder struct {
	writer DecisionWriter
	logger *slog.Logger
	ch     chan rbac.Decision

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

// NewRecorder starts a recorder draining into writer.
func NewRecorder(writer DecisionWriter, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		writer: writer,
		logger: logger,
		ch:     make(chan rbac.Decision, buffer),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues a decision without blocking.
func (r *Recorder) Record(ctx context.Context, d rbac.Decision) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- d:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.logger.Warn("audit buffer full, dropping decisions", slog.Uint64("dropped", n))
		}
	}
}

// Dropped reports how many decisions were discarded.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting decisions and waits until the buffer is drained.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) drain() {
	defer close(r.done)
	for d := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.writer.WriteDecision(ctx, d); err != nil {
			r.logger.Warn("audit write decision", slog.String("permission", d.Permission), slog.Any("error", err))
		}
		cancel()
	}
}

// LogWriter writes decisions as structured log lines.
type LogWriter struct {
	Logger *slog.Logger
}

// WriteDecision implements DecisionWriter.
func (w LogWriter) WriteDecision(ctx context.Context, d rbac.Decision) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "authz decision",
		slog.Int64("principal_id", d.PrincipalID),
		slog.String("permission", d.Permission),
		slog.Bool("allowed", d.Allowed),
		slog.String("reason", string(d.Reason)),
		slog.Any("roles", d.Roles),
		slog.String("method", d.Method),
		slog.String("path", d.Path),
		slog.String("request_id", d.RequestID),
	)
	return nil
}

// LogStore persists audit_logs entries.
type LogStore interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StoreWriter writes decisions into audit_logs.
type StoreWriter struct {
	Store LogStore
}

// WriteDecision implements DecisionWriter.
func (w StoreWriter) WriteDecision(ctx context.Context, d rbac.Decision) error {
	return w.Store.Record(ctx, DecisionLog(d))
}

// Enqueuer hands decisions to the background queue.
type Enqueuer interface {
	EnqueueDecision(ctx context.Context, d rbac.Decision) error
}

// QueueWriter forwards decisions to the worker process.
type QueueWriter struct {
	Queue Enqueuer
}

// WriteDecision implements DecisionWriter.
func (w QueueWriter) WriteDecision(ctx context.Context, d rbac.Decision) error {
	return w.Queue.EnqueueDecision(ctx, d)
}

// DecisionLog maps a decision onto an audit_logs entry. Allowed decisions
// use action "authz.allow", denials "authz.deny".
func DecisionLog(d rbac.Decision) shared.AuditLog {
	action := "authz.deny"
	if d.Allowed {
		action = "authz.allow"
	}
	meta := map[string]any{
		"reason": string(d.Reason),
		"roles":  d.Roles,
	}
	if d.Method != "" {
		meta["method"] = d.Method
		meta["path"] = d.Path
	}
	if d.RequestID != "" {
		meta["request_id"] = d.RequestID
	}
	return shared.AuditLog{
		ActorID:  d.PrincipalID,
		Action:   action,
		Entity:   "permission:" + d.Permission,
		EntityID: strconv.FormatInt(d.PrincipalID, 10),
		Meta:     meta,
		At:       d.CheckedAt,
	}
}

var _ rbac.DecisionSink = (*Recorder)(nil)
