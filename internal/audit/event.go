package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType menamai perubahan yang relevan bagi otorisasi.
type EventType string

// Tipe event yang dicatat.
const (
	EventTenantProvisioned EventType = "tenant.provisioned"
	EventRoleCreated       EventType = "role.created"
	EventRoleUpdated       EventType = "role.updated"
	EventRoleDeleted       EventType = "role.deleted"
	EventAssignmentCreated EventType = "assignment.created"
	EventAssignmentRemoved EventType = "assignment.removed"
	EventMemberRemoved     EventType = "member.removed"
	EventAccessDenied      EventType = "access.denied"
)

// TargetType identifies what an event is about.
type TargetType string

const (
	TargetTenant     TargetType = "tenant"
	TargetRole       TargetType = "role"
	TargetAssignment TargetType = "assignment"
	TargetMember     TargetType = "member"
	TargetPermission TargetType = "permission"
)

var (
	// ErrAuditWrite indicates the event could not be persisted; the enclosing mutation must roll back.
	ErrAuditWrite = errors.New("audit: write failed")
	// ErrInvalidEvent indicates a malformed event.
	ErrInvalidEvent = errors.New("audit: invalid event")
	// ErrInvalidFilter indicates unusable query filters.
	ErrInvalidFilter = errors.New("audit: invalid filter")
)

// Event is one append-only audit record.
type Event struct {
	ID               int64          `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	ActorPrincipalID uuid.UUID      `json:"actor_principal_id"`
	EventType        EventType      `json:"event_type"`
	TargetType       TargetType     `json:"target_type"`
	TargetID         string         `json:"target_id"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	switch {
	case e.TenantID == uuid.Nil:
		return fmt.Errorf("%w: tenant required", ErrInvalidEvent)
	case strings.TrimSpace(string(e.EventType)) == "":
		return fmt.Errorf("%w: event type required", ErrInvalidEvent)
	case strings.TrimSpace(string(e.TargetType)) == "" || strings.TrimSpace(e.TargetID) == "":
		return fmt.Errorf("%w: target required", ErrInvalidEvent)
	}
	return nil
}

// Filters menampung filter untuk kueri audit.
type Filters struct {
	EventType  EventType
	TargetType TargetType
	TargetID   string
	Actor      uuid.UUID
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// Validate rejects inverted time windows.
func (f Filters) Validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return fmt.Errorf("%w: from after to", ErrInvalidFilter)
	}
	return nil
}

// ListParams is what the repository needs to fetch one window of events.
type ListParams struct {
	Filters
	Limit  int
	Offset int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil kueri dengan informasi paging.
type Result struct {
	Events []Event    `json:"events"`
	Paging PagingInfo `json:"paging"`
}
