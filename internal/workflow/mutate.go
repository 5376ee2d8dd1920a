package workflow

import (
	"strings"
	"time"

	"jobline/internal/domain"
)

// Mutations are the transition-specific side effects applied between guard
// and persistence. Anything not listed here is a pure state-field update.

func (i *jobInstance) mutate(to State, now time.Time, p Payload) {
	if to == JobAssigned && p.ContractorID != "" {
		contractorID := p.ContractorID
		i.Job.AssignedContractor = &contractorID
		for idx := range i.Job.Applicants {
			if i.Job.Applicants[idx].ContractorID == contractorID {
				i.Job.Applicants[idx].Status = "ACCEPTED"
			} else {
				i.Job.Applicants[idx].Status = "REJECTED"
			}
		}
	}
}

func (i *workOrderInstance) mutate(to State, now time.Time, p Payload) {
	if to == WorkOrderVerified && p.Proof != "" {
		i.WorkOrder.Attachments = append(i.WorkOrder.Attachments, domain.Attachment{
			FileURL:      p.Proof,
			OriginalName: "proof",
			UploadedAt:   now.UTC().Format(time.RFC3339),
		})
	}
}

func (i *invoiceInstance) mutate(to State, now time.Time, p Payload) {
	inv := i.Invoice
	switch to {
	case InvoiceSubmitted:
		if p.Items != nil {
			inv.Items = p.Items
		}
		if p.Currency != "" {
			inv.Currency = p.Currency
		}
		if p.Notes != nil {
			inv.Notes = *p.Notes
		}
		inv.TotalAmount = inv.Total()
		// Resubmission resets any earlier settlement.
		inv.ApprovedAt = nil
		inv.PaidAt = nil
	case InvoiceRejected:
		if strings.TrimSpace(p.Reason) != "" {
			inv.Notes = p.Reason
		}
	case InvoiceApproved:
		ts := now.UTC().Format(time.RFC3339)
		inv.ApprovedAt = &ts
	case InvoicePaid:
		ts := now.UTC().Format(time.RFC3339)
		inv.PaidAt = &ts
	}
}
