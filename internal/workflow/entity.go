package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jobline/internal/domain"
	"jobline/internal/events"
	"jobline/internal/repo"
)

// Payload carries the transition-specific inputs the engine reads from a
// caller. Unused fields are ignored by transitions that do not consume them.
type Payload struct {
	ContractorID string
	Proof        string
	Items        []domain.LineItem
	Currency     string
	Notes        *string
	Reason       string
	Metadata     map[string]any
}

// instance is the per-variant view the orchestrator works through: resolve
// the current state, guard the transition, apply its side effects, write the
// result. One implementation per entity kind, selected by switch in load.
type instance interface {
	id() string
	resolve() State
	guard(to State, actor domain.Actor, p Payload) error
	mutate(to State, now time.Time, p Payload)
	apply(to State)
	refs() (jobID, workOrderID, invoiceID *string)
	save(ctx context.Context, tx *sql.Tx, r repo.Repo, now string) error
	fill(evt *events.TransitionEvent)
	value() any
}

func (e Engine) load(ctx context.Context, et EntityType, id string) (instance, error) {
	switch et {
	case EntityJob:
		j, err := e.Repo.GetJob(ctx, id)
		if err != nil {
			return nil, wrapLoadErr(err, "job", id)
		}
		return &jobInstance{Job: &j}, nil
	case EntityWorkOrder:
		wo, err := e.Repo.GetWorkOrder(ctx, id)
		if err != nil {
			return nil, wrapLoadErr(err, "work order", id)
		}
		return &workOrderInstance{WorkOrder: &wo}, nil
	case EntityInvoice:
		inv, err := e.Repo.GetInvoice(ctx, id)
		if err != nil {
			return nil, wrapLoadErr(err, "invoice", id)
		}
		return &invoiceInstance{Invoice: &inv}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported entity type %q", ErrInvalidRequest, et)
	}
}

func wrapLoadErr(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return err
}

type jobInstance struct {
	Job *domain.Job
}

func (i *jobInstance) id() string     { return i.Job.ID }
func (i *jobInstance) resolve() State { return resolveState(EntityJob, i.Job.CurrentState, i.Job.Status) }
func (i *jobInstance) value() any     { return *i.Job }

func (i *jobInstance) apply(to State) {
	i.Job.CurrentState = string(to)
	i.Job.Status = projectLegacy(EntityJob, to)
}

func (i *jobInstance) refs() (*string, *string, *string) {
	return &i.Job.ID, nil, nil
}

func (i *jobInstance) save(ctx context.Context, tx *sql.Tx, r repo.Repo, now string) error {
	i.Job.UpdatedAt = now
	return r.UpdateJob(ctx, tx, *i.Job)
}

func (i *jobInstance) fill(evt *events.TransitionEvent) {
	j := *i.Job
	evt.Job = &j
}

type workOrderInstance struct {
	WorkOrder *domain.WorkOrder
}

func (i *workOrderInstance) id() string { return i.WorkOrder.ID }
func (i *workOrderInstance) resolve() State {
	return resolveState(EntityWorkOrder, i.WorkOrder.CurrentState, i.WorkOrder.Status)
}
func (i *workOrderInstance) value() any { return *i.WorkOrder }

func (i *workOrderInstance) apply(to State) {
	i.WorkOrder.CurrentState = string(to)
	i.WorkOrder.Status = projectLegacy(EntityWorkOrder, to)
}

func (i *workOrderInstance) refs() (*string, *string, *string) {
	return &i.WorkOrder.JobID, &i.WorkOrder.ID, nil
}

func (i *workOrderInstance) save(ctx context.Context, tx *sql.Tx, r repo.Repo, now string) error {
	i.WorkOrder.UpdatedAt = now
	return r.UpdateWorkOrder(ctx, tx, *i.WorkOrder)
}

func (i *workOrderInstance) fill(evt *events.TransitionEvent) {
	wo := *i.WorkOrder
	evt.WorkOrder = &wo
}

type invoiceInstance struct {
	Invoice *domain.Invoice
}

func (i *invoiceInstance) id() string { return i.Invoice.ID }
func (i *invoiceInstance) resolve() State {
	return resolveState(EntityInvoice, i.Invoice.CurrentState, i.Invoice.Status)
}
func (i *invoiceInstance) value() any { return *i.Invoice }

func (i *invoiceInstance) apply(to State) {
	i.Invoice.CurrentState = string(to)
	i.Invoice.Status = projectLegacy(EntityInvoice, to)
}

func (i *invoiceInstance) refs() (*string, *string, *string) {
	return &i.Invoice.JobID, &i.Invoice.WorkOrderID, &i.Invoice.ID
}

func (i *invoiceInstance) save(ctx context.Context, tx *sql.Tx, r repo.Repo, now string) error {
	i.Invoice.UpdatedAt = now
	return r.UpdateInvoice(ctx, tx, *i.Invoice)
}

func (i *invoiceInstance) fill(evt *events.TransitionEvent) {
	inv := *i.Invoice
	evt.Invoice = &inv
}
