package ses

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyDelivery(t *testing.T) {
	raw := `{
		"notificationType": "Delivery",
		"mail": {"messageId": "m1", "destination": ["a@example.com"]},
		"delivery": {"smtpResponse": "250 Ok", "timestamp": "2025-01-01T00:00:00.000Z"}
	}`
	ev, err := Classify(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Type != "delivery" {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.ProviderMessageID != "m1" {
		t.Fatalf("message id = %q", ev.ProviderMessageID)
	}
	if ev.SMTPResponse != "250 Ok" {
		t.Fatalf("smtp response = %q", ev.SMTPResponse)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if ev.Timestamp == nil || !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestClassifyBounce(t *testing.T) {
	raw := `{
		"notificationType": "Bounce",
		"mail": {"messageId": "m2", "destination": ["b@example.com", "c@example.com"]},
		"bounce": {
			"bounceType": "Permanent",
			"bounceSubType": "General",
			"timestamp": "2025-01-02T10:00:00Z",
			"bouncedRecipients": [{"emailAddress": "b@example.com", "diagnosticCode": "550 5.1.1"}]
		}
	}`
	ev, err := Classify(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Type != "bounce" || ev.BounceType != "Permanent" || ev.BounceSubType != "General" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.PermanentBounce() {
		t.Fatal("expected permanent bounce")
	}
	got := ev.SuppressionRecipients()
	if len(got) != 1 || got[0] != "b@example.com" {
		t.Fatalf("suppression recipients = %v", got)
	}
}

func TestClassifyComplaint(t *testing.T) {
	raw := `{
		"notificationType": "Complaint",
		"mail": {"messageId": "m3", "destination": ["d@example.com"]},
		"complaint": {
			"complaintFeedbackType": "abuse",
			"complainedRecipients": [{"emailAddress": "d@example.com"}]
		}
	}`
	ev, err := Classify(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Type != "complaint" || ev.ComplaintFeedbackType != "abuse" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Timestamp != nil {
		t.Fatalf("expected no timestamp, got %v", ev.Timestamp)
	}
}

func TestClassifyCaseAndUnknownType(t *testing.T) {
	ev, err := Classify(`{"notificationType": "DELIVERY", "mail": {"messageId": "m"}}`)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Type != "delivery" {
		t.Fatalf("type = %q", ev.Type)
	}

	ev, err = Classify(`{"notificationType": "Open", "mail": {"messageId": "m"}}`)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Type != "open" {
		t.Fatalf("type = %q", ev.Type)
	}

	ev, err = Classify(`{"mail": {"messageId": "m"}}`)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Type != "unknown" {
		t.Fatalf("type = %q", ev.Type)
	}
}

func TestClassifyStringDestination(t *testing.T) {
	ev, err := Classify(`{"notificationType": "Delivery", "mail": {"messageId": "m", "destination": "solo@example.com"}}`)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(ev.Recipients) != 1 || ev.Recipients[0] != "solo@example.com" {
		t.Fatalf("recipients = %v", ev.Recipients)
	}
}

func TestClassifyBadTimestampTolerated(t *testing.T) {
	ev, err := Classify(`{
		"notificationType": "Delivery",
		"mail": {"messageId": "m"},
		"delivery": {"timestamp": "not-a-time"}
	}`)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ev.Timestamp != nil {
		t.Fatalf("expected nil timestamp, got %v", ev.Timestamp)
	}
}

func TestClassifyErrors(t *testing.T) {
	if _, err := Classify(""); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("empty payload err = %v", err)
	}
	if _, err := Classify("{not json"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("bad json err = %v", err)
	}
}
