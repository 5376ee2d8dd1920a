package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobline/internal/domain"
	"jobline/internal/repo"
)

// Marketplace operations that surround the state machine: posting jobs,
// applying, and the convenience flows that create an entity and immediately
// transition it. Everything that changes lifecycle state still goes through
// Transition.

// JobCreateOptions are parameters for posting a job.
type JobCreateOptions struct {
	AgentID        string
	Title          string
	Description    string
	Location       string
	Area           string
	RequiredSkills []string
	Currency       string
	Amount         float64
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if opts.AgentID == "" {
		return domain.Job{}, fmt.Errorf("%w: agent is required", ErrUnauthenticated)
	}
	if opts.Title == "" || opts.Description == "" {
		return domain.Job{}, fmt.Errorf("%w: title and description are required", ErrInvalidRequest)
	}
	agent, err := e.Repo.GetUser(ctx, opts.AgentID)
	if err != nil {
		return domain.Job{}, wrapLoadErr(err, "user", opts.AgentID)
	}
	if agent.Role != domain.RoleAgent {
		return domain.Job{}, fmt.Errorf("%w: only agents can post jobs", ErrForbidden)
	}
	currency := opts.Currency
	if currency == "" {
		currency = "INR"
	}
	now := e.now().UTC().Format(time.RFC3339)
	j := domain.Job{
		ID:             uuid.New().String(),
		CreatedBy:      opts.AgentID,
		Title:          opts.Title,
		Description:    opts.Description,
		Location:       opts.Location,
		Area:           opts.Area,
		RequiredSkills: opts.RequiredSkills,
		Budget:         domain.Budget{Currency: currency, Amount: opts.Amount},
		Status:         string(JobOpen),
		CurrentState:   string(JobOpen),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertJob(ctx, j); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// Apply appends an applicant to an open job. This is a plain document edit,
// not a transition, so it bypasses the state machine but still notifies the
// job owner.
func (e Engine) Apply(ctx context.Context, jobID string, actor domain.Actor, note string) (domain.Job, error) {
	if actor.ID == "" {
		return domain.Job{}, fmt.Errorf("%w: acting user is required", ErrUnauthenticated)
	}
	if actor.Role != domain.RoleContractor {
		return domain.Job{}, fmt.Errorf("%w: only contractors can apply", ErrForbidden)
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, wrapLoadErr(err, "job", jobID)
	}
	if resolveState(EntityJob, j.CurrentState, j.Status) != JobOpen {
		return domain.Job{}, fmt.Errorf("%w: job is not open for applications", ErrInvalidRequest)
	}
	for _, a := range j.Applicants {
		if a.ContractorID == actor.ID {
			return domain.Job{}, fmt.Errorf("%w: already applied to this job", ErrInvalidRequest)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	j.Applicants = append(j.Applicants, domain.Applicant{
		ContractorID: actor.ID,
		Note:         note,
		Status:       "APPLIED",
		AppliedAt:    now,
	})
	j.UpdatedAt = now
	if err := e.Repo.UpdateJob(ctx, nil, j); err != nil {
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}
	notif := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    j.CreatedBy,
		Type:      string(EntityJob),
		Title:     "New job application",
		Body:      fmt.Sprintf("A contractor applied to %s", j.Title),
		JobID:     &j.ID,
		CreatedAt: now,
	}
	if err := e.Repo.InsertNotification(ctx, notif); err != nil {
		return domain.Job{}, fmt.Errorf("notify owner: %w", err)
	}
	return j, nil
}

// AssignContractor runs the Job OPEN -> ASSIGNED transition and, when the job
// has no work order yet, creates one and activates it through the engine so
// both steps land in the audit trail.
func (e Engine) AssignContractor(ctx context.Context, jobID, contractorID string, actor domain.Actor) (domain.Job, domain.WorkOrder, error) {
	if contractorID == "" {
		return domain.Job{}, domain.WorkOrder{}, fmt.Errorf("%w: contractor id is required", ErrInvalidRequest)
	}
	contractor, err := e.Repo.GetUser(ctx, contractorID)
	if err != nil {
		return domain.Job{}, domain.WorkOrder{}, wrapLoadErr(err, "contractor", contractorID)
	}
	if contractor.Role != domain.RoleContractor {
		return domain.Job{}, domain.WorkOrder{}, fmt.Errorf("%w: user %s is not a contractor", ErrInvalidRequest, contractorID)
	}

	res, err := e.Transition(ctx, TransitionRequest{
		EntityType: EntityJob,
		ID:         jobID,
		NextState:  string(JobAssigned),
		Actor:      &actor,
		Payload:    Payload{ContractorID: contractorID},
	})
	if err != nil {
		return domain.Job{}, domain.WorkOrder{}, err
	}
	job := res.Entity.(domain.Job)

	wo, err := e.Repo.GetWorkOrderByJob(ctx, job.ID)
	if err == nil {
		return job, wo, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, domain.WorkOrder{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	wo = domain.WorkOrder{
		ID:           uuid.New().String(),
		JobID:        job.ID,
		AgentID:      actor.ID,
		ContractorID: contractorID,
		Number:       e.generateNumber("WO"),
		ScopeOfWork:  job.Description,
		Terms:        "Standard terms apply",
		Status:       projectLegacy(EntityWorkOrder, WorkOrderCreated),
		CurrentState: string(WorkOrderCreated),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertWorkOrder(ctx, wo); err != nil {
		return domain.Job{}, domain.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
	}
	woRes, err := e.Transition(ctx, TransitionRequest{
		EntityType: EntityWorkOrder,
		ID:         wo.ID,
		NextState:  string(WorkOrderActive),
		Actor:      &actor,
	})
	if err != nil {
		return domain.Job{}, domain.WorkOrder{}, err
	}
	return job, woRes.Entity.(domain.WorkOrder), nil
}

// InvoiceCreateOptions are parameters for drafting and submitting an invoice.
type InvoiceCreateOptions struct {
	JobID    string
	Items    []domain.LineItem
	Currency string
	Notes    string
}

// CreateInvoice drafts an invoice against the job's work order and submits it
// in the same call, the way contractors bill in practice.
func (e Engine) CreateInvoice(ctx context.Context, actor domain.Actor, opts InvoiceCreateOptions) (domain.Invoice, domain.WorkflowAudit, error) {
	if actor.ID == "" {
		return domain.Invoice{}, domain.WorkflowAudit{}, fmt.Errorf("%w: acting user is required", ErrUnauthenticated)
	}
	j, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return domain.Invoice{}, domain.WorkflowAudit{}, wrapLoadErr(err, "job", opts.JobID)
	}
	if j.AssignedContractor == nil || *j.AssignedContractor != actor.ID {
		return domain.Invoice{}, domain.WorkflowAudit{}, fmt.Errorf("%w: only the assigned contractor can invoice this job", ErrForbidden)
	}
	wo, err := e.Repo.GetWorkOrderByJob(ctx, j.ID)
	if err != nil {
		return domain.Invoice{}, domain.WorkflowAudit{}, wrapLoadErr(err, "work order for job", j.ID)
	}
	currency := opts.Currency
	if currency == "" {
		currency = "INR"
	}
	now := e.now().UTC().Format(time.RFC3339)
	inv := domain.Invoice{
		ID:           uuid.New().String(),
		JobID:        j.ID,
		WorkOrderID:  wo.ID,
		AgentID:      j.CreatedBy,
		ContractorID: actor.ID,
		Number:       e.generateNumber("INV"),
		Items:        opts.Items,
		Currency:     currency,
		Status:       string(InvoiceDraft),
		CurrentState: string(InvoiceDraft),
		Notes:        opts.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inv.TotalAmount = inv.Total()
	if err := e.Repo.InsertInvoice(ctx, inv); err != nil {
		return domain.Invoice{}, domain.WorkflowAudit{}, fmt.Errorf("insert invoice: %w", err)
	}
	notes := opts.Notes
	res, err := e.Transition(ctx, TransitionRequest{
		EntityType: EntityInvoice,
		ID:         inv.ID,
		NextState:  string(InvoiceSubmitted),
		Actor:      &actor,
		Payload:    Payload{Items: opts.Items, Currency: currency, Notes: &notes},
	})
	if err != nil {
		return domain.Invoice{}, domain.WorkflowAudit{}, err
	}
	return res.Entity.(domain.Invoice), res.Audit, nil
}

// generateNumber builds a human-readable document number like
// WO-LX3K9A-4F21C0: millisecond timestamp in base 36 plus a random suffix.
func (e Engine) generateNumber(prefix string) string {
	ts := strings.ToUpper(strconv.FormatInt(e.now().UnixMilli(), 36))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", prefix, ts, suffix)
}
