// Package notify turns committed workflow transitions into user
// notifications. Delivery is best-effort: the triggering transition has
// already committed by the time a handler runs, so every failure here is
// logged and swallowed, never propagated.
package notify

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobline/internal/domain"
	"jobline/internal/events"
	"jobline/internal/repo"
)

// Pusher is the optional live-connection channel. Implementations deliver to
// a user's personal channel and broadcast to everyone watching a job.
type Pusher interface {
	PushToUser(userID string, n domain.Notification)
	BroadcastJob(jobID string, b JobBroadcast)
}

// JobBroadcast is the lightweight event sent to a job's channel on any
// transition touching it.
type JobBroadcast struct {
	EntityType  string       `json:"entity_type"`
	EntityID    string       `json:"entity_id"`
	ToState     string       `json:"to_state"`
	PerformedBy domain.Actor `json:"performed_by"`
}

type Dispatcher struct {
	Repo   repo.Repo
	Pusher Pusher
	Now    func() time.Time
}

// Register subscribes the dispatcher on the bus. Registration is keyed by
// subscriber name, so calling it again during startup is harmless.
func (d *Dispatcher) Register(bus *events.Bus) {
	bus.Subscribe(events.Transitioned, "notify.dispatcher", d.handle)
}

func (d *Dispatcher) handle(evt events.TransitionEvent) {
	if err := d.dispatch(context.Background(), evt); err != nil {
		log.Printf("notify: dispatch %s %s -> %s failed: %v", evt.EntityType, evt.EntityID, evt.ToState, err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, evt events.TransitionEvent) error {
	n, jobID, ok, err := d.buildNotification(ctx, evt)
	if err != nil {
		return err
	}
	if ok {
		if err := d.Repo.InsertNotification(ctx, n); err != nil {
			return err
		}
		if d.Pusher != nil {
			d.Pusher.PushToUser(n.UserID, n)
		}
	}
	if d.Pusher != nil && jobID != "" {
		d.Pusher.BroadcastJob(jobID, JobBroadcast{
			EntityType:  evt.EntityType,
			EntityID:    evt.EntityID,
			ToState:     evt.ToState,
			PerformedBy: evt.PerformedBy,
		})
	}
	return nil
}

var jobTitles = map[string]string{
	"ASSIGNED":    "Job assigned",
	"IN_PROGRESS": "Job started",
	"COMPLETED":   "Job completed",
}

var workOrderTitles = map[string]string{
	"ACTIVE":   "Work order issued",
	"VERIFIED": "Work order verified",
	"CLOSED":   "Work order closed",
}

var invoiceTitles = map[string]string{
	"SUBMITTED": "Invoice submitted",
	"APPROVED":  "Invoice approved",
	"REJECTED":  "Invoice rejected",
	"PAID":      "Invoice paid",
}

// buildNotification refetches the entity (the event snapshot may be stale)
// and derives the counterpart recipient, title, and linkage. ok is false when
// there is no counterpart to notify, which is not an error.
func (d *Dispatcher) buildNotification(ctx context.Context, evt events.TransitionEvent) (n domain.Notification, jobID string, ok bool, err error) {
	actorRole := evt.PerformedBy.Role
	now := d.now().UTC().Format(time.RFC3339)

	switch evt.EntityType {
	case "JOB":
		j, err := d.Repo.GetJob(ctx, evt.EntityID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) && evt.Job != nil {
				j = *evt.Job
			} else {
				return n, "", false, err
			}
		}
		jobID = j.ID
		var recipient string
		if actorRole == domain.RoleAgent {
			if j.AssignedContractor != nil {
				recipient = *j.AssignedContractor
			}
		} else {
			recipient = j.CreatedBy
		}
		if recipient == "" {
			return n, jobID, false, nil
		}
		n = domain.Notification{
			ID:        uuid.New().String(),
			UserID:    recipient,
			Type:      "JOB",
			Title:     titleFor(jobTitles, evt.ToState, "Job updated"),
			Body:      j.Title + " is now " + strings.ReplaceAll(evt.ToState, "_", " "),
			JobID:     &j.ID,
			CreatedAt: now,
		}
		return n, jobID, true, nil

	case "WORK_ORDER":
		wo, err := d.Repo.GetWorkOrder(ctx, evt.EntityID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) && evt.WorkOrder != nil {
				wo = *evt.WorkOrder
			} else {
				return n, "", false, err
			}
		}
		jobID = wo.JobID
		recipient := wo.AgentID
		if actorRole == domain.RoleAgent {
			recipient = wo.ContractorID
		}
		if recipient == "" {
			return n, jobID, false, nil
		}
		n = domain.Notification{
			ID:          uuid.New().String(),
			UserID:      recipient,
			Type:        "WORK_ORDER",
			Title:       titleFor(workOrderTitles, evt.ToState, "Work order updated"),
			Body:        "Work order " + wo.Number + " is now " + evt.ToState,
			JobID:       &wo.JobID,
			WorkOrderID: &wo.ID,
			CreatedAt:   now,
		}
		return n, jobID, true, nil

	case "INVOICE":
		inv, err := d.Repo.GetInvoice(ctx, evt.EntityID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) && evt.Invoice != nil {
				inv = *evt.Invoice
			} else {
				return n, "", false, err
			}
		}
		jobID = inv.JobID
		recipient := inv.AgentID
		if actorRole == domain.RoleAgent {
			recipient = inv.ContractorID
		}
		if recipient == "" {
			return n, jobID, false, nil
		}
		n = domain.Notification{
			ID:          uuid.New().String(),
			UserID:      recipient,
			Type:        "INVOICE",
			Title:       titleFor(invoiceTitles, evt.ToState, "Invoice updated"),
			Body:        "Invoice " + inv.Number + " is now " + evt.ToState,
			JobID:       &inv.JobID,
			WorkOrderID: &inv.WorkOrderID,
			InvoiceID:   &inv.ID,
			CreatedAt:   now,
		}
		return n, jobID, true, nil
	}
	return n, "", false, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func titleFor(titles map[string]string, state, fallback string) string {
	if t, ok := titles[state]; ok {
		return t
	}
	return fallback
}
