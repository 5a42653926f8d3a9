package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineQuery = `
SELECT a.occurred_at, a.actor_id, COALESCE(u.email, a.actor_id::text) AS actor,
       a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
  AND ($3::text IS NULL OR u.email = $3 OR a.actor_id::text = $3)
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action LIKE $5 || '%')
ORDER BY a.occurred_at DESC, a.id DESC`

// Window returns one page of the timeline.
func (r *PGRepository) Window(ctx context.Context, p WindowParams) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery+` OFFSET $6 LIMIT $7`,
		toPgTime(p.From), toPgTime(endOfDay(p.To)), optionalText(p.Actor), optionalText(p.Entity), optionalText(p.Action),
		p.Offset, p.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTimelineRow)
}

// All returns the full filtered timeline.
func (r *PGRepository) All(ctx context.Context, p WindowParams) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery,
		toPgTime(p.From), toPgTime(endOfDay(p.To)), optionalText(p.Actor), optionalText(p.Entity), optionalText(p.Action))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTimelineRow)
}

func scanTimelineRow(row pgx.CollectableRow) (TimelineRow, error) {
	var (
		out   TimelineRow
		at    pgtype.Timestamptz
		actor pgtype.Int8
		meta  []byte
	)
	if err := row.Scan(&at, &actor, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
		return TimelineRow{}, err
	}
	if at.Valid {
		out.At = at.Time
	}
	if actor.Valid {
		out.ActorID = actor.Int64
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &out.Meta)
	}
	return out, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24 * time.Hour)
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
