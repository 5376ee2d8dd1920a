package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobline/internal/domain"
	"jobline/internal/events"
	"jobline/internal/repo"
)

// Engine is the sole mutator of entity lifecycle state. It validates a
// requested transition, applies its side effects, persists the entity and an
// audit record in one transaction, and publishes the transition event after
// commit. The bus is injected at construction; nothing here waits on
// subscribers.
type Engine struct {
	DB   *sql.DB
	Repo repo.Repo
	Bus  *events.Bus
	Now  func() time.Time
}

func New(db *sql.DB, bus *events.Bus) Engine {
	return Engine{
		DB:   db,
		Repo: repo.Repo{DB: db},
		Bus:  bus,
		Now:  time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

type TransitionRequest struct {
	EntityType EntityType
	ID         string
	NextState  string
	Actor      *domain.Actor
	Payload    Payload
}

type Result struct {
	EntityType EntityType
	// Entity is the mutated domain.Job, domain.WorkOrder, or domain.Invoice.
	Entity any
	Audit  domain.WorkflowAudit
}

// Transition validates and applies one lifecycle transition. All validation
// runs before any write; a failed call leaves the entity untouched, writes no
// audit row, and emits no event.
func (e Engine) Transition(ctx context.Context, req TransitionRequest) (Result, error) {
	if req.Actor == nil || req.Actor.ID == "" {
		return Result{}, fmt.Errorf("%w: acting user is required", ErrUnauthenticated)
	}
	actor := *req.Actor

	to := NormalizeState(req.NextState)
	if to == "" {
		return Result{}, fmt.Errorf("%w: next state is required", ErrInvalidRequest)
	}

	inst, err := e.load(ctx, req.EntityType, req.ID)
	if err != nil {
		return Result{}, err
	}
	from := inst.resolve()

	edge, ok := findEdge(req.EntityType, from, to)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, req.EntityType, from, to)
	}
	if !edge.allows(actor.Role) {
		return Result{}, fmt.Errorf("%w: role %s may not perform %s -> %s", ErrForbidden, actor.Role, from, to)
	}
	if err := inst.guard(to, actor, req.Payload); err != nil {
		return Result{}, err
	}

	now := e.now()
	inst.mutate(to, now, req.Payload)
	inst.apply(to)

	metadata, err := marshalMetadata(req.Payload.Metadata)
	if err != nil {
		return Result{}, fmt.Errorf("%w: metadata: %v", ErrInvalidRequest, err)
	}
	jobID, workOrderID, invoiceID := inst.refs()
	audit := domain.WorkflowAudit{
		ID:            uuid.New().String(),
		EntityType:    string(req.EntityType),
		EntityID:      inst.id(),
		FromState:     string(from),
		ToState:       string(to),
		PerformedBy:   actor.ID,
		PerformedRole: actor.Role,
		JobID:         jobID,
		WorkOrderID:   workOrderID,
		InvoiceID:     invoiceID,
		MetadataJSON:  metadata,
		CreatedAt:     now.UTC().Format(time.RFC3339Nano),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	if err := inst.save(ctx, tx, e.Repo, now.UTC().Format(time.RFC3339)); err != nil {
		return Result{}, fmt.Errorf("save %s %s: %w", req.EntityType, inst.id(), err)
	}
	if err := e.Repo.InsertAudit(ctx, tx, audit); err != nil {
		return Result{}, fmt.Errorf("append audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	if e.Bus != nil {
		evt := events.TransitionEvent{
			EntityType:  string(req.EntityType),
			EntityID:    inst.id(),
			FromState:   string(from),
			ToState:     string(to),
			PerformedBy: actor,
			AuditID:     audit.ID,
		}
		inst.fill(&evt)
		e.Bus.Publish(events.Transitioned, evt)
	}

	return Result{EntityType: req.EntityType, Entity: inst.value(), Audit: audit}, nil
}

// ListAudit returns the transition history for one entity, newest first.
func (e Engine) ListAudit(ctx context.Context, et EntityType, entityID string) ([]domain.WorkflowAudit, error) {
	switch et {
	case EntityJob, EntityWorkOrder, EntityInvoice:
	default:
		return nil, fmt.Errorf("%w: unsupported entity type %q", ErrInvalidRequest, et)
	}
	return e.Repo.ListAudits(ctx, string(et), entityID)
}

func marshalMetadata(m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
