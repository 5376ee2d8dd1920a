package workflow

import (
	"strings"

	"jobline/internal/domain"
)

// EntityType identifies which of the three lifecycle machines a transition
// targets. The set is closed; dispatch is by switch, never by table lookup on
// caller-supplied strings.
type EntityType string

const (
	EntityJob       EntityType = "JOB"
	EntityWorkOrder EntityType = "WORK_ORDER"
	EntityInvoice   EntityType = "INVOICE"
)

type State string

const (
	JobOpen       State = "OPEN"
	JobAssigned   State = "ASSIGNED"
	JobInProgress State = "IN_PROGRESS"
	JobCompleted  State = "COMPLETED"

	WorkOrderCreated  State = "CREATED"
	WorkOrderActive   State = "ACTIVE"
	WorkOrderVerified State = "VERIFIED"
	WorkOrderClosed   State = "CLOSED"

	InvoiceDraft     State = "DRAFT"
	InvoiceSubmitted State = "SUBMITTED"
	InvoiceApproved  State = "APPROVED"
	InvoiceRejected  State = "REJECTED"
	InvoicePaid      State = "PAID"
)

// edge is one allowed transition, tagged with the roles permitted to take it.
type edge struct {
	From  State
	To    State
	Roles []domain.Role
}

var jobEdges = []edge{
	{From: JobOpen, To: JobAssigned, Roles: []domain.Role{domain.RoleAgent}},
	{From: JobAssigned, To: JobInProgress, Roles: []domain.Role{domain.RoleContractor}},
	{From: JobInProgress, To: JobCompleted, Roles: []domain.Role{domain.RoleAgent, domain.RoleContractor}},
}

var workOrderEdges = []edge{
	{From: WorkOrderCreated, To: WorkOrderActive, Roles: []domain.Role{domain.RoleAgent}},
	{From: WorkOrderActive, To: WorkOrderVerified, Roles: []domain.Role{domain.RoleContractor}},
	{From: WorkOrderVerified, To: WorkOrderClosed, Roles: []domain.Role{domain.RoleAgent}},
}

var invoiceEdges = []edge{
	{From: InvoiceDraft, To: InvoiceSubmitted, Roles: []domain.Role{domain.RoleContractor}},
	{From: InvoiceSubmitted, To: InvoiceApproved, Roles: []domain.Role{domain.RoleAgent}},
	{From: InvoiceSubmitted, To: InvoiceRejected, Roles: []domain.Role{domain.RoleAgent}},
	{From: InvoiceApproved, To: InvoicePaid, Roles: []domain.Role{domain.RoleAgent}},
	// Resubmission loop: a rejected invoice can be corrected and sent again.
	{From: InvoiceRejected, To: InvoiceSubmitted, Roles: []domain.Role{domain.RoleContractor}},
}

func edgesFor(et EntityType) []edge {
	switch et {
	case EntityJob:
		return jobEdges
	case EntityWorkOrder:
		return workOrderEdges
	case EntityInvoice:
		return invoiceEdges
	}
	return nil
}

func findEdge(et EntityType, from, to State) (edge, bool) {
	for _, e := range edgesFor(et) {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return edge{}, false
}

func (e edge) allows(role domain.Role) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NormalizeState canonicalizes a caller-supplied state string.
func NormalizeState(s string) State {
	return State(strings.ToUpper(strings.TrimSpace(s)))
}

// Work orders predate the engine and stored a different status vocabulary.
// Both directions stay table-driven so the round trip can be property-tested.
var workOrderLegacyToState = map[string]State{
	"DRAFT":  WorkOrderCreated,
	"ISSUED": WorkOrderActive,
	"SIGNED": WorkOrderVerified,
	"CLOSED": WorkOrderClosed,
}

var workOrderStateToLegacy = map[State]string{
	WorkOrderCreated:  "DRAFT",
	WorkOrderActive:   "ISSUED",
	WorkOrderVerified: "SIGNED",
	WorkOrderClosed:   "CLOSED",
}

// resolveState derives the canonical state from the stored fields, preferring
// the explicit current_state and falling back to the legacy status mirror.
func resolveState(et EntityType, currentState, legacyStatus string) State {
	if explicit := NormalizeState(currentState); explicit != "" {
		return explicit
	}
	legacy := NormalizeState(legacyStatus)
	if et == EntityWorkOrder {
		if mapped, ok := workOrderLegacyToState[string(legacy)]; ok {
			return mapped
		}
	}
	return legacy
}

// projectLegacy maps a canonical state back to the legacy status value that
// must mirror it. Job and invoice vocabularies equal their canonical names.
func projectLegacy(et EntityType, s State) string {
	if et == EntityWorkOrder {
		if legacy, ok := workOrderStateToLegacy[s]; ok {
			return legacy
		}
	}
	return string(s)
}
