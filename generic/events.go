package generic

import (
	"context"
	"time"
)

// =============================================================================
// DOMAIN EVENTS - emitted after a transition commits
// =============================================================================

type EventType string

const (
	EventContractSigned        EventType = "contract_signed"
	EventContractActivated     EventType = "contract_activated"
	EventCancellationRequested EventType = "cancellation_requested"
	EventCancellationApproved  EventType = "cancellation_approved"
	EventCancellationRejected  EventType = "cancellation_rejected"
	EventContractStatusChanged EventType = "contract_status_changed"
	EventBookingApproved       EventType = "booking_approved"
	EventBookingRejected       EventType = "booking_rejected"
	EventBookingCompleted      EventType = "booking_completed"
	EventInstallmentPaid       EventType = "installment_paid"
	EventInstallmentOverdue    EventType = "installment_overdue"
	EventResourceReleased      EventType = "resource_released"
	EventRewardEarned          EventType = "reward_earned"
	EventRewardForfeited       EventType = "reward_forfeited"
	EventRewardClaimed         EventType = "reward_claimed"
	EventTransferRequested     EventType = "transfer_requested"
	EventTransferApproved      EventType = "transfer_approved"
	EventTransferRejected      EventType = "transfer_rejected"
	EventTransferInfoRequested EventType = "transfer_info_requested"
	EventTransferCompleted     EventType = "transfer_completed"
)

// Event is a fact about a committed transition. Attributes carry small
// projections (ids, amounts), never whole entities.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	EntityID   string            `json:"entity_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(t EventType, entityID string, at time.Time, attrs map[string]string) Event {
	return Event{ID: NewID("evt"), Type: t, EntityID: entityID, OccurredAt: at, Attributes: attrs}
}

// Dispatcher delivers events to whoever listens (push, SMS, email, queues).
// Delivery is fire-and-forget: a failed dispatch never undoes a transition.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// DiscardDispatcher drops every event.
type DiscardDispatcher struct{}

func (DiscardDispatcher) Dispatch(context.Context, Event) error { return nil }
