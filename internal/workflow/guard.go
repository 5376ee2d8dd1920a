package workflow

import (
	"fmt"

	"jobline/internal/domain"
)

// Guards check ownership and preconditions beyond role-on-edge membership.
// They run after the edge and role checks, so a guard failure always means
// "edge exists, role fits, but not for this caller or this entity".

func (i *jobInstance) guard(to State, actor domain.Actor, p Payload) error {
	isOwner := i.Job.CreatedBy == actor.ID
	isAssigned := i.Job.AssignedContractor != nil && *i.Job.AssignedContractor == actor.ID

	switch to {
	case JobAssigned:
		if !isOwner {
			return fmt.Errorf("%w: only the job owner can assign a contractor", ErrForbidden)
		}
		if i.Job.AssignedContractor == nil && p.ContractorID == "" {
			return fmt.Errorf("%w: contractor id is required to assign a contractor", ErrInvalidRequest)
		}
	case JobInProgress:
		if !isAssigned {
			return fmt.Errorf("%w: only the assigned contractor can start the job", ErrForbidden)
		}
	case JobCompleted:
		if !isOwner && !isAssigned {
			return fmt.Errorf("%w: only the job owner or assigned contractor can complete the job", ErrForbidden)
		}
	}
	return nil
}

func (i *workOrderInstance) guard(to State, actor domain.Actor, p Payload) error {
	isAgent := i.WorkOrder.AgentID == actor.ID
	isContractor := i.WorkOrder.ContractorID == actor.ID

	switch to {
	case WorkOrderActive:
		if !isAgent {
			return fmt.Errorf("%w: only the work order's agent can activate it", ErrForbidden)
		}
	case WorkOrderVerified:
		if !isContractor {
			return fmt.Errorf("%w: only the work order's contractor can verify it", ErrForbidden)
		}
		if len(i.WorkOrder.Attachments) == 0 && p.Proof == "" {
			return fmt.Errorf("%w: proof is required to verify a work order", ErrInvalidRequest)
		}
	case WorkOrderClosed:
		if !isAgent {
			return fmt.Errorf("%w: only the work order's agent can close it", ErrForbidden)
		}
	}
	return nil
}

func (i *invoiceInstance) guard(to State, actor domain.Actor, p Payload) error {
	isAgent := i.Invoice.AgentID == actor.ID
	isContractor := i.Invoice.ContractorID == actor.ID

	switch to {
	case InvoiceSubmitted:
		if !isContractor {
			return fmt.Errorf("%w: only the invoice's contractor can submit it", ErrForbidden)
		}
	case InvoiceApproved, InvoiceRejected, InvoicePaid:
		if !isAgent {
			return fmt.Errorf("%w: only the invoice's agent can settle it", ErrForbidden)
		}
	}
	return nil
}
