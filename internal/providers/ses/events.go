package ses

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingPayload = errors.New("missing notification payload")
	ErrInvalidPayload = errors.New("invalid notification payload")
)

// Event is the normalized form of one SES notification.
type Event struct {
	// Type is the lowercased notificationType, or "unknown".
	Type string
	// ProviderMessageID is mail.messageId, the send-time correlation key.
	ProviderMessageID string
	// Recipients is mail.destination in payload order; duplicates tolerated.
	Recipients []string
	// Timestamp is nil when the payload carries none or it fails to parse.
	Timestamp *time.Time

	SMTPResponse string

	BounceType        string
	BounceSubType     string
	BouncedRecipients []string

	ComplaintFeedbackType string
	ComplainedRecipients  []string
}

// SuppressionRecipients are the addresses a bounce/complaint event suppresses:
// the event's own recipient list when present, the full destination otherwise.
func (e Event) SuppressionRecipients() []string {
	if len(e.BouncedRecipients) > 0 {
		return e.BouncedRecipients
	}
	if len(e.ComplainedRecipients) > 0 {
		return e.ComplainedRecipients
	}
	return e.Recipients
}

// PermanentBounce reports whether the bounce classification is the hard
// category. Transient/soft bounces never suppress.
func (e Event) PermanentBounce() bool {
	return strings.EqualFold(e.BounceType, "Permanent")
}

// stringList tolerates mail.destination arriving as either a JSON array or a
// single string.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*s = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = []string{one}
	return nil
}

type recipientInfo struct {
	EmailAddress   string `json:"emailAddress"`
	Action         string `json:"action,omitempty"`
	Status         string `json:"status,omitempty"`
	DiagnosticCode string `json:"diagnosticCode,omitempty"`
}

type mailSection struct {
	MessageID   string     `json:"messageId"`
	Timestamp   string     `json:"timestamp"`
	Source      string     `json:"source"`
	Destination stringList `json:"destination"`
}

type bounceSection struct {
	BounceType        string          `json:"bounceType"`
	BounceSubType     string          `json:"bounceSubType"`
	Timestamp         string          `json:"timestamp"`
	FeedbackID        string          `json:"feedbackId"`
	ReportingMTA      string          `json:"reportingMTA"`
	BouncedRecipients []recipientInfo `json:"bouncedRecipients"`
}

type complaintSection struct {
	ComplaintFeedbackType string          `json:"complaintFeedbackType"`
	Timestamp             string          `json:"timestamp"`
	UserAgent             string          `json:"userAgent"`
	FeedbackID            string          `json:"feedbackId"`
	ComplainedRecipients  []recipientInfo `json:"complainedRecipients"`
}

type deliverySection struct {
	Timestamp            string `json:"timestamp"`
	SMTPResponse         string `json:"smtpResponse"`
	ReportingMTA         string `json:"reportingMTA"`
	ProcessingTimeMillis int64  `json:"processingTimeMillis"`
}

type notification struct {
	NotificationType string            `json:"notificationType"`
	Mail             mailSection       `json:"mail"`
	Bounce           *bounceSection    `json:"bounce"`
	Complaint        *complaintSection `json:"complaint"`
	Delivery         *deliverySection  `json:"delivery"`
}

// Classify parses the inner SNS Message body into a normalized event. An
// unrecognized notificationType yields Type "unknown", never an error; only a
// missing or syntactically invalid payload errors.
func Classify(raw string) (Event, error) {
	if raw == "" {
		return Event{}, ErrMissingPayload
	}
	var n notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev := Event{
		Type:              strings.ToLower(n.NotificationType),
		ProviderMessageID: n.Mail.MessageID,
		Recipients:        n.Mail.Destination,
	}
	if ev.Type == "" {
		ev.Type = "unknown"
	}

	switch ev.Type {
	case "bounce":
		if n.Bounce != nil {
			ev.BounceType = n.Bounce.BounceType
			ev.BounceSubType = n.Bounce.BounceSubType
			ev.Timestamp = parseTimestamp(n.Bounce.Timestamp)
			for _, r := range n.Bounce.BouncedRecipients {
				if r.EmailAddress != "" {
					ev.BouncedRecipients = append(ev.BouncedRecipients, r.EmailAddress)
				}
			}
		}
	case "complaint":
		if n.Complaint != nil {
			ev.ComplaintFeedbackType = n.Complaint.ComplaintFeedbackType
			ev.Timestamp = parseTimestamp(n.Complaint.Timestamp)
			for _, r := range n.Complaint.ComplainedRecipients {
				if r.EmailAddress != "" {
					ev.ComplainedRecipients = append(ev.ComplainedRecipients, r.EmailAddress)
				}
			}
		}
	case "delivery":
		if n.Delivery != nil {
			ev.SMTPResponse = n.Delivery.SMTPResponse
			ev.Timestamp = parseTimestamp(n.Delivery.Timestamp)
		}
	}
	return ev, nil
}

// parseTimestamp is tolerant: RFC3339 with or without fractional seconds, a
// bare "Z" suffix, or no offset at all. Failure means "no timestamp".
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
