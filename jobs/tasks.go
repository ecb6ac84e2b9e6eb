package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPrincipalRemoved revokes every grant of a principal that left a tenant.
	TaskPrincipalRemoved = "authz:principal_removed"
	// TaskMembershipSweep finds grants whose membership row is gone and queues
	// TaskPrincipalRemoved for each principal.
	TaskMembershipSweep = "authz:membership_sweep"
)

// PrincipalRemovedPayload identifies the membership that ended.
type PrincipalRemovedPayload struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
}

// NewPrincipalRemovedTask constructs an Asynq task.
func NewPrincipalRemovedTask(payload PrincipalRemovedPayload) (*asynq.Task, error) {
	if payload.TenantID == uuid.Nil || payload.PrincipalID == uuid.Nil {
		return nil, fmt.Errorf("jobs: principal removal needs tenant and principal")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrincipalRemoved, data,
		asynq.MaxRetry(10),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", TaskPrincipalRemoved, payload.TenantID, payload.PrincipalID)),
	), nil
}

// NewMembershipSweepTask constructs the periodic sweep task.
func NewMembershipSweepTask() *asynq.Task {
	return asynq.NewTask(TaskMembershipSweep, nil, asynq.MaxRetry(0))
}

// Revoker is the slice of rbac.Service the job needs.
type Revoker interface {
	RemovePrincipal(ctx context.Context, tenantID, actor, principalID uuid.UUID) (int, error)
}

// OrphanFinder lists principals that hold grants in tenants they left.
type OrphanFinder interface {
	OrphanedPrincipals(ctx context.Context, limit int) ([]rbac.PrincipalRef, error)
}

// RemovalEnqueuer queues TaskPrincipalRemoved. *Client implements it.
type RemovalEnqueuer interface {
	EnqueuePrincipalRemoved(ctx context.Context, tenantID, principalID uuid.UUID) error
}

// JobObserver records job outcomes.
type JobObserver interface {
	ObserveJob(task string, err error)
}

// PrincipalRemovedJob handles TaskPrincipalRemoved.
type PrincipalRemovedJob struct {
	revoker  Revoker
	logger   *slog.Logger
	observer JobObserver
	metrics  *jobmetrics.Metrics
}

// NewPrincipalRemovedJob wires the handler. observer and metrics are optional.
func NewPrincipalRemovedJob(revoker Revoker, logger *slog.Logger, observer JobObserver, metrics *jobmetrics.Metrics) *PrincipalRemovedJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrincipalRemovedJob{revoker: revoker, logger: logger, observer: observer, metrics: metrics}
}

// Handle processes TaskPrincipalRemoved tasks. The revocation runs as the system actor.
func (j *PrincipalRemovedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.metrics.Track(TaskPrincipalRemoved)
	defer func() {
		err = tracker.End(err)
		if j.observer != nil {
			j.observer.ObserveJob(TaskPrincipalRemoved, err)
		}
	}()

	var payload PrincipalRemovedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Warn("principal removal payload", slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TenantID == uuid.Nil || payload.PrincipalID == uuid.Nil {
		return fmt.Errorf("empty tenant or principal: %w", asynq.SkipRetry)
	}

	removed, err := j.revoker.RemovePrincipal(ctx, payload.TenantID, uuid.Nil, payload.PrincipalID)
	if err != nil {
		j.logger.Error("revoke principal grants",
			slog.String("tenant_id", payload.TenantID.String()),
			slog.String("principal_id", payload.PrincipalID.String()),
			slog.Any("error", err))
		return err
	}
	j.metrics.AddRevoked(removed)
	j.logger.Info("principal grants revoked",
		slog.String("tenant_id", payload.TenantID.String()),
		slog.String("principal_id", payload.PrincipalID.String()),
		slog.Int("assignments", removed))
	return nil
}

// MembershipSweepJob handles TaskMembershipSweep. Departures normally revoke
// grants in the same transaction; the sweep catches membership rows deleted by
// the upstream sync directly.
type MembershipSweepJob struct {
	finder   OrphanFinder
	enqueuer RemovalEnqueuer
	batch    int
	logger   *slog.Logger
	observer JobObserver
	metrics  *jobmetrics.Metrics
}

// NewMembershipSweepJob wires the sweep. batch bounds the principals queued per run.
func NewMembershipSweepJob(finder OrphanFinder, enqueuer RemovalEnqueuer, batch int, logger *slog.Logger, observer JobObserver, metrics *jobmetrics.Metrics) *MembershipSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 500
	}
	return &MembershipSweepJob{finder: finder, enqueuer: enqueuer, batch: batch, logger: logger, observer: observer, metrics: metrics}
}

// Handle queues one removal per orphaned principal. A failed enqueue does not stop
// the run; the next sweep picks the principal up again.
func (j *MembershipSweepJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := j.metrics.Track(TaskMembershipSweep)
	defer func() {
		err = tracker.End(err)
		if j.observer != nil {
			j.observer.ObserveJob(TaskMembershipSweep, err)
		}
	}()

	refs, err := j.finder.OrphanedPrincipals(ctx, j.batch)
	if err != nil {
		j.logger.Error("find orphaned principals", slog.Any("error", err))
		return err
	}
	j.metrics.SetOrphans(len(refs))
	if len(refs) == 0 {
		return nil
	}

	var errs []error
	queued := 0
	for _, ref := range refs {
		if err := j.enqueuer.EnqueuePrincipalRemoved(ctx, ref.TenantID, ref.PrincipalID); err != nil {
			j.logger.Warn("queue principal removal",
				slog.String("tenant_id", ref.TenantID.String()),
				slog.String("principal_id", ref.PrincipalID.String()),
				slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		queued++
	}
	j.logger.Info("membership sweep", slog.Int("orphans", len(refs)), slog.Int("queued", queued))
	return errors.Join(errs...)
}
