package domain

import (
	"errors"
	"strings"
)

type DeliveryState string

const (
	StateQueued     DeliveryState = "queued"
	StateSending    DeliveryState = "sending"
	StateSuppressed DeliveryState = "suppressed"
	StateSent       DeliveryState = "sent"
	StateDelivered  DeliveryState = "delivered"
	StateBounced    DeliveryState = "bounced"
	StateComplaint  DeliveryState = "complaint"
	StateFailed     DeliveryState = "failed"
	StateUnknown    DeliveryState = "unknown"
)

// StateForEvent maps a normalized notification type to the delivery state it
// overwrites on correlated log rows. Last write wins; out-of-order events are
// applied as they arrive.
func StateForEvent(eventType string) DeliveryState {
	switch eventType {
	case "delivery":
		return StateDelivered
	case "bounce":
		return StateBounced
	case "complaint":
		return StateComplaint
	default:
		return StateUnknown
	}
}

type SuppressionReason string

const (
	ReasonBounce    SuppressionReason = "bounce"
	ReasonComplaint SuppressionReason = "complaint"
	ReasonManual    SuppressionReason = "manual"
)

type SubscriberStatus string

const (
	SubscriberActive     SubscriberStatus = "active"
	SubscriberSuppressed SubscriberStatus = "suppressed"
)

var ErrMissingFields = errors.New("missing required fields")

type SendEmailRequest struct {
	TenantID  string `json:"tenantId,omitempty"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	HTMLBody  string `json:"htmlBody,omitempty"`
}

func (r SendEmailRequest) Validate() error {
	if r.Recipient == "" || r.Subject == "" || r.Body == "" {
		return ErrMissingFields
	}
	if !strings.Contains(r.Recipient, "@") {
		return errors.New("recipient must be an email address")
	}
	return nil
}

type CreateResponse struct {
	EmailLogID string `json:"emailLogId"`
	State      string `json:"state"`
}
