package workflow

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobline/internal/db"
	"jobline/internal/domain"
	"jobline/internal/events"
	"jobline/internal/migrate"
)

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	conn   *sql.DB
	bus    *events.Bus
	eng    Engine
	agent  domain.Actor
	worker domain.Actor
}

// newTestEnv opens a throwaway database and wires an engine with a
// deterministic clock that advances one second per call, so audit ordering is
// stable in tests.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	eng := New(conn, bus)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var tick int64
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		conn:   conn,
		bus:    bus,
		eng:    eng,
		agent:  domain.Actor{ID: "agent-1", Role: domain.RoleAgent},
		worker: domain.Actor{ID: "contractor-1", Role: domain.RoleContractor},
	}
	env.seedUser("agent-1", domain.RoleAgent)
	env.seedUser("agent-2", domain.RoleAgent)
	env.seedUser("contractor-1", domain.RoleContractor)
	env.seedUser("contractor-2", domain.RoleContractor)
	return env
}

func (env *testEnv) seedUser(id string, role domain.Role) {
	env.t.Helper()
	err := env.eng.Repo.InsertUser(env.ctx, domain.User{
		ID:        id,
		Name:      id,
		Email:     id + "@test.local",
		Role:      role,
		CreatedAt: "2025-03-01T09:00:00Z",
	})
	if err != nil {
		env.t.Fatalf("seed user %s: %v", id, err)
	}
}

func (env *testEnv) seedJob(state State, applicants ...string) domain.Job {
	env.t.Helper()
	j := domain.Job{
		ID:           uuid.New().String(),
		CreatedBy:    "agent-1",
		Title:        "Rewire apartment",
		Description:  "Full rewiring of a 2BHK",
		Budget:       domain.Budget{Currency: "INR", Amount: 25000},
		Status:       string(state),
		CurrentState: string(state),
		CreatedAt:    "2025-03-01T09:00:00Z",
		UpdatedAt:    "2025-03-01T09:00:00Z",
	}
	for _, c := range applicants {
		j.Applicants = append(j.Applicants, domain.Applicant{
			ContractorID: c,
			Status:       "APPLIED",
			AppliedAt:    "2025-03-01T09:30:00Z",
		})
	}
	if err := env.eng.Repo.InsertJob(env.ctx, j); err != nil {
		env.t.Fatalf("seed job: %v", err)
	}
	return j
}

func (env *testEnv) seedWorkOrder(jobID string, state State) domain.WorkOrder {
	env.t.Helper()
	wo := domain.WorkOrder{
		ID:           uuid.New().String(),
		JobID:        jobID,
		AgentID:      "agent-1",
		ContractorID: "contractor-1",
		Number:       "WO-TEST-000001",
		ScopeOfWork:  "Full rewiring of a 2BHK",
		Status:       projectLegacy(EntityWorkOrder, state),
		CurrentState: string(state),
		CreatedAt:    "2025-03-01T09:00:00Z",
		UpdatedAt:    "2025-03-01T09:00:00Z",
	}
	if err := env.eng.Repo.InsertWorkOrder(env.ctx, wo); err != nil {
		env.t.Fatalf("seed work order: %v", err)
	}
	return wo
}

func (env *testEnv) seedInvoice(jobID, workOrderID string, state State, items []domain.LineItem) domain.Invoice {
	env.t.Helper()
	inv := domain.Invoice{
		ID:           uuid.New().String(),
		JobID:        jobID,
		WorkOrderID:  workOrderID,
		AgentID:      "agent-1",
		ContractorID: "contractor-1",
		Number:       "INV-TEST-000001",
		Items:        items,
		Currency:     "INR",
		Status:       string(state),
		CurrentState: string(state),
		CreatedAt:    "2025-03-01T09:00:00Z",
		UpdatedAt:    "2025-03-01T09:00:00Z",
	}
	inv.TotalAmount = inv.Total()
	if err := env.eng.Repo.InsertInvoice(env.ctx, inv); err != nil {
		env.t.Fatalf("seed invoice: %v", err)
	}
	return inv
}

func (env *testEnv) transition(et EntityType, id, to string, actor domain.Actor, p Payload) (Result, error) {
	env.t.Helper()
	return env.eng.Transition(env.ctx, TransitionRequest{
		EntityType: et,
		ID:         id,
		NextState:  to,
		Actor:      &actor,
		Payload:    p,
	})
}

func TestAssignContractorSweepsApplicants(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen, "contractor-1", "contractor-2")

	res, err := env.transition(EntityJob, j.ID, "assigned", env.agent, Payload{ContractorID: "contractor-1"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	job := res.Entity.(domain.Job)
	if job.CurrentState != string(JobAssigned) || job.Status != string(JobAssigned) {
		t.Fatalf("state = %s / %s, want ASSIGNED / ASSIGNED", job.CurrentState, job.Status)
	}
	if job.AssignedContractor == nil || *job.AssignedContractor != "contractor-1" {
		t.Fatalf("assigned contractor = %v, want contractor-1", job.AssignedContractor)
	}
	for _, a := range job.Applicants {
		want := "REJECTED"
		if a.ContractorID == "contractor-1" {
			want = "ACCEPTED"
		}
		if a.Status != want {
			t.Errorf("applicant %s status = %s, want %s", a.ContractorID, a.Status, want)
		}
	}

	stored, err := env.eng.Repo.GetJob(env.ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.CurrentState != string(JobAssigned) {
		t.Fatalf("stored state = %s, want ASSIGNED", stored.CurrentState)
	}

	if res.Audit.FromState != "OPEN" || res.Audit.ToState != "ASSIGNED" {
		t.Fatalf("audit %s -> %s, want OPEN -> ASSIGNED", res.Audit.FromState, res.Audit.ToState)
	}
	if res.Audit.JobID == nil || *res.Audit.JobID != j.ID {
		t.Fatalf("audit job link = %v, want %s", res.Audit.JobID, j.ID)
	}
}

func TestVerifyWorkOrderRequiresProof(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobAssigned)
	wo := env.seedWorkOrder(j.ID, WorkOrderActive)

	_, err := env.transition(EntityWorkOrder, wo.ID, "VERIFIED", env.worker, Payload{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("verify without proof: err = %v, want ErrInvalidRequest", err)
	}

	stored, _ := env.eng.Repo.GetWorkOrder(env.ctx, wo.ID)
	if stored.CurrentState != string(WorkOrderActive) {
		t.Fatalf("state after failed verify = %s, want ACTIVE", stored.CurrentState)
	}

	res, err := env.transition(EntityWorkOrder, wo.ID, "VERIFIED", env.worker, Payload{Proof: "https://files.test/proof.jpg"})
	if err != nil {
		t.Fatalf("verify with proof: %v", err)
	}
	got := res.Entity.(domain.WorkOrder)
	if got.CurrentState != string(WorkOrderVerified) {
		t.Fatalf("state = %s, want VERIFIED", got.CurrentState)
	}
	if got.Status != "SIGNED" {
		t.Fatalf("legacy status = %s, want SIGNED", got.Status)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].FileURL != "https://files.test/proof.jpg" {
		t.Fatalf("attachments = %+v, want one proof attachment", got.Attachments)
	}
}

func TestInvoiceRejectAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobInProgress)
	wo := env.seedWorkOrder(j.ID, WorkOrderVerified)
	inv := env.seedInvoice(j.ID, wo.ID, InvoiceSubmitted, []domain.LineItem{
		{Description: "Labor", Quantity: 2, UnitPrice: 500},
	})

	res, err := env.transition(EntityInvoice, inv.ID, "REJECTED", env.agent, Payload{Reason: "missing material costs"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	rejected := res.Entity.(domain.Invoice)
	if rejected.Notes != "missing material costs" {
		t.Fatalf("notes = %q, want rejection reason", rejected.Notes)
	}

	res, err = env.transition(EntityInvoice, inv.ID, "SUBMITTED", env.worker, Payload{
		Items: []domain.LineItem{
			{Description: "Labor", Quantity: 2, UnitPrice: 300},
			{Description: "Materials", Quantity: 1, UnitPrice: 300},
		},
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	resubmitted := res.Entity.(domain.Invoice)
	if resubmitted.TotalAmount != 900 {
		t.Fatalf("total = %v, want 900", resubmitted.TotalAmount)
	}
	if resubmitted.ApprovedAt != nil || resubmitted.PaidAt != nil {
		t.Fatalf("settlement timestamps not cleared on resubmit: %+v", resubmitted)
	}

	res, err = env.transition(EntityInvoice, inv.ID, "APPROVED", env.agent, Payload{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Entity.(domain.Invoice).ApprovedAt == nil {
		t.Fatal("ApprovedAt not set")
	}

	res, err = env.transition(EntityInvoice, inv.ID, "PAID", env.agent, Payload{})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	paid := res.Entity.(domain.Invoice)
	if paid.PaidAt == nil {
		t.Fatal("PaidAt not set")
	}
	if paid.CurrentState != string(InvoicePaid) || paid.Status != string(InvoicePaid) {
		t.Fatalf("state = %s / %s, want PAID / PAID", paid.CurrentState, paid.Status)
	}
}

func TestEmptyRejectionReasonLeavesNotes(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobInProgress)
	wo := env.seedWorkOrder(j.ID, WorkOrderVerified)
	inv := env.seedInvoice(j.ID, wo.ID, InvoiceSubmitted, nil)
	inv.Notes = "original notes"
	if err := env.eng.Repo.UpdateInvoice(env.ctx, nil, inv); err != nil {
		t.Fatalf("update invoice: %v", err)
	}

	res, err := env.transition(EntityInvoice, inv.ID, "REJECTED", env.agent, Payload{Reason: "   "})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := res.Entity.(domain.Invoice).Notes; got != "original notes" {
		t.Fatalf("notes = %q, want original notes untouched", got)
	}
}

func TestCompletedJobIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobCompleted)

	for _, to := range []string{"OPEN", "ASSIGNED", "IN_PROGRESS", "COMPLETED"} {
		_, err := env.transition(EntityJob, j.ID, to, env.agent, Payload{})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("COMPLETED -> %s: err = %v, want ErrInvalidTransition", to, err)
		}
	}
}

func TestRoleAndOwnershipChecks(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen)

	// Role not on the edge.
	_, err := env.transition(EntityJob, j.ID, "ASSIGNED", env.worker, Payload{ContractorID: "contractor-1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("contractor assigning: err = %v, want ErrForbidden", err)
	}

	// Right role, wrong owner.
	other := domain.Actor{ID: "agent-2", Role: domain.RoleAgent}
	_, err = env.transition(EntityJob, j.ID, "ASSIGNED", other, Payload{ContractorID: "contractor-1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner agent assigning: err = %v, want ErrForbidden", err)
	}

	// Owner without a contractor to assign.
	_, err = env.transition(EntityJob, j.ID, "ASSIGNED", env.agent, Payload{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("assign without contractor: err = %v, want ErrInvalidRequest", err)
	}
}

func TestUnauthenticatedAndMissingInput(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen)

	_, err := env.eng.Transition(env.ctx, TransitionRequest{
		EntityType: EntityJob, ID: j.ID, NextState: "ASSIGNED",
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("nil actor: err = %v, want ErrUnauthenticated", err)
	}

	empty := domain.Actor{}
	_, err = env.eng.Transition(env.ctx, TransitionRequest{
		EntityType: EntityJob, ID: j.ID, NextState: "ASSIGNED", Actor: &empty,
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty actor: err = %v, want ErrUnauthenticated", err)
	}

	_, err = env.transition(EntityJob, j.ID, "   ", env.agent, Payload{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("blank next state: err = %v, want ErrInvalidRequest", err)
	}

	_, err = env.transition(EntityJob, "no-such-job", "ASSIGNED", env.agent, Payload{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing job: err = %v, want ErrNotFound", err)
	}
}

func TestFailedTransitionWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen, "contractor-1")

	var published int
	var mu sync.Mutex
	env.bus.Subscribe("workflow.transitioned", "test.recorder", func(evt events.TransitionEvent) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	_, err := env.transition(EntityJob, j.ID, "ASSIGNED", env.worker, Payload{ContractorID: "contractor-1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	env.bus.Wait()

	stored, _ := env.eng.Repo.GetJob(env.ctx, j.ID)
	if stored.CurrentState != string(JobOpen) || stored.AssignedContractor != nil {
		t.Fatalf("job mutated by failed transition: %+v", stored)
	}
	if stored.Applicants[0].Status != "APPLIED" {
		t.Fatalf("applicant mutated by failed transition: %+v", stored.Applicants[0])
	}
	audits, err := env.eng.ListAudit(env.ctx, EntityJob, j.ID)
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 0 {
		t.Fatalf("audit rows = %d, want 0", len(audits))
	}
	mu.Lock()
	defer mu.Unlock()
	if published != 0 {
		t.Fatalf("events published = %d, want 0", published)
	}
}

func TestLegacyStatusResolvesAndSyncs(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobAssigned)

	// A pre-engine row: legacy status only, no canonical state.
	wo := domain.WorkOrder{
		ID:           uuid.New().String(),
		JobID:        j.ID,
		AgentID:      "agent-1",
		ContractorID: "contractor-1",
		Number:       "WO-LEGACY-000001",
		ScopeOfWork:  "Legacy scope",
		Status:       "ISSUED",
		CreatedAt:    "2025-01-01T00:00:00Z",
		UpdatedAt:    "2025-01-01T00:00:00Z",
	}
	if err := env.eng.Repo.InsertWorkOrder(env.ctx, wo); err != nil {
		t.Fatalf("seed legacy work order: %v", err)
	}

	res, err := env.transition(EntityWorkOrder, wo.ID, "VERIFIED", env.worker, Payload{Proof: "https://files.test/p.jpg"})
	if err != nil {
		t.Fatalf("transition from legacy status: %v", err)
	}
	got := res.Entity.(domain.WorkOrder)
	if got.CurrentState != string(WorkOrderVerified) || got.Status != "SIGNED" {
		t.Fatalf("state = %s / %s, want VERIFIED / SIGNED", got.CurrentState, got.Status)
	}
	if res.Audit.FromState != "ACTIVE" {
		t.Fatalf("audit from = %s, want ACTIVE (resolved from ISSUED)", res.Audit.FromState)
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen)

	var mu sync.Mutex
	var got []events.TransitionEvent
	env.bus.Subscribe("workflow.transitioned", "test.recorder", func(evt events.TransitionEvent) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	res, err := env.transition(EntityJob, j.ID, "ASSIGNED", env.agent, Payload{ContractorID: "contractor-1"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	env.bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	evt := got[0]
	if evt.EntityType != "JOB" || evt.EntityID != j.ID {
		t.Fatalf("event entity = %s %s, want JOB %s", evt.EntityType, evt.EntityID, j.ID)
	}
	if evt.FromState != "OPEN" || evt.ToState != "ASSIGNED" {
		t.Fatalf("event %s -> %s, want OPEN -> ASSIGNED", evt.FromState, evt.ToState)
	}
	if evt.AuditID != res.Audit.ID {
		t.Fatalf("event audit id = %s, want %s", evt.AuditID, res.Audit.ID)
	}
	if evt.Job == nil || evt.Job.AssignedContractor == nil {
		t.Fatalf("event snapshot missing mutated job: %+v", evt.Job)
	}
}

func TestMetadataStoredVerbatim(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen)

	res, err := env.transition(EntityJob, j.ID, "ASSIGNED", env.agent, Payload{
		ContractorID: "contractor-1",
		Metadata:     map[string]any{"source": "mobile", "attempt": float64(2)},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Audit.MetadataJSON == nil {
		t.Fatal("metadata not stored")
	}

	audits, err := env.eng.ListAudit(env.ctx, EntityJob, j.ID)
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 1 || audits[0].MetadataJSON == nil {
		t.Fatalf("audits = %+v, want one row with metadata", audits)
	}
}

func TestListAuditNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	j := env.seedJob(JobOpen)

	if _, err := env.transition(EntityJob, j.ID, "ASSIGNED", env.agent, Payload{ContractorID: "contractor-1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.transition(EntityJob, j.ID, "IN_PROGRESS", env.worker, Payload{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.transition(EntityJob, j.ID, "COMPLETED", env.agent, Payload{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	audits, err := env.eng.ListAudit(env.ctx, EntityJob, j.ID)
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 3 {
		t.Fatalf("audits = %d, want 3", len(audits))
	}
	wantTo := []string{"COMPLETED", "IN_PROGRESS", "ASSIGNED"}
	for i, a := range audits {
		if a.ToState != wantTo[i] {
			t.Errorf("audit[%d].ToState = %s, want %s", i, a.ToState, wantTo[i])
		}
	}

	if _, err := env.eng.ListAudit(env.ctx, EntityType("BOGUS"), j.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bogus entity type: err = %v, want ErrInvalidRequest", err)
	}
}
