package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

// PGStore persists events into audit_events.
type PGStore struct {
	pool db.Querier
}

// NewPGStore returns a store that reads through pool and writes through the caller's querier.
func NewPGStore(pool db.Querier) *PGStore {
	return &PGStore{pool: pool}
}

// Record inserts ev using q so the event commits or rolls back with the caller's transaction.
// A nil q writes through the store's own pool.
func (s *PGStore) Record(ctx context.Context, q db.Querier, ev Event) (Event, error) {
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	if q == nil {
		if s == nil || s.pool == nil {
			return Event{}, fmt.Errorf("%w: store not initialised", ErrAuditWrite)
		}
		q = s.pool
	}
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Event{}, fmt.Errorf("%w: encode metadata: %v", ErrAuditWrite, err)
	}
	var occurred any
	if !ev.OccurredAt.IsZero() {
		occurred = ev.OccurredAt
	}
	const insert = `INSERT INTO audit_events (tenant_id, actor_principal_id, event_type, target_type, target_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, NOW()))
RETURNING id, occurred_at`
	if err := q.QueryRow(ctx, insert, ev.TenantID, ev.ActorPrincipalID, string(ev.EventType), string(ev.TargetType), ev.TargetID, metaJSON, occurred).
		Scan(&ev.ID, &ev.OccurredAt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	ev.Metadata = meta
	return ev, nil
}

// RecordDenial writes a standalone access.denied event outside any mutation.
func (s *PGStore) RecordDenial(ctx context.Context, ev Event) error {
	_, err := s.Record(ctx, nil, ev)
	return err
}

// ListEvents returns a window of a tenant's events, newest first.
func (s *PGStore) ListEvents(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Event, error) {
	query, args := buildListQuery(tenantID, p)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			evType   string
			target   string
			metaJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ActorPrincipalID, &evType, &target, &ev.TargetID, &ev.OccurredAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		ev.EventType = EventType(evType)
		ev.TargetType = TargetType(target)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func buildListQuery(tenantID uuid.UUID, p ListParams) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, tenant_id, actor_principal_id, event_type, target_type, target_id, occurred_at, metadata
FROM audit_events WHERE tenant_id = $1`)
	args := []any{tenantID}
	add := func(cond string, value any) {
		args = append(args, value)
		fmt.Fprintf(&b, " AND %s $%d", cond, len(args))
	}
	if p.EventType != "" {
		add("event_type =", string(p.EventType))
	}
	if p.TargetType != "" {
		add("target_type =", string(p.TargetType))
	}
	if id := strings.TrimSpace(p.TargetID); id != "" {
		add("target_id =", id)
	}
	if p.Actor != uuid.Nil {
		add("actor_principal_id =", p.Actor)
	}
	if !p.From.IsZero() {
		add("occurred_at >=", p.From)
	}
	if !p.To.IsZero() {
		add("occurred_at <=", p.To)
	}
	b.WriteString(" ORDER BY occurred_at DESC, id DESC")
	if p.Limit > 0 {
		args = append(args, p.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if p.Offset > 0 {
		args = append(args, p.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
