package store

import "time"

type Tenant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contactEmail"`
	SESVerified  bool      `json:"sesVerified"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Campaign struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type Subscriber struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// EmailLog is one attempt to deliver one message to one recipient.
// TenantID/CampaignID/SubscriberID are correlation hints and may be empty:
// ad-hoc test sends have no tenant, transactional sends have no campaign.
type EmailLog struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenantId,omitempty"`
	CampaignID       string     `json:"campaignId,omitempty"`
	SubscriberID     string     `json:"subscriberId,omitempty"`
	RecipientEmail   string     `json:"recipientEmail"`
	MessageID        string     `json:"messageId,omitempty"`
	JobID            string     `json:"jobId,omitempty"`
	Status           string     `json:"status"`
	LastEventType    string     `json:"lastEventType,omitempty"`
	LastEventAt      *time.Time `json:"lastEventAt,omitempty"`
	LastSMTPResponse string     `json:"lastSmtpResponse,omitempty"`
	BounceType       string     `json:"bounceType,omitempty"`
	BounceSubType    string     `json:"bounceSubType,omitempty"`
	ComplaintType    string     `json:"complaintType,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// EmailEvent is the audit record for one accepted inbound notification.
// (SNSMessageID, TopicARN) is the dedup key for at-least-once redelivery.
type EmailEvent struct {
	ID                string    `json:"id"`
	EmailLogID        string    `json:"emailLogId,omitempty"`
	SESMessageID      string    `json:"sesMessageId,omitempty"`
	SNSMessageID      string    `json:"snsMessageId,omitempty"`
	TopicARN          string    `json:"topicArn,omitempty"`
	EventType         string    `json:"eventType"`
	ReceivedAt        time.Time `json:"receivedAt"`
	PayloadJSON       string    `json:"-"`
	SignatureVerified bool      `json:"signatureVerified"`
}

type Suppression struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Email     string    `json:"email"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type EmailLogInsert struct {
	ID             string
	TenantID       string
	CampaignID     string
	SubscriberID   string
	RecipientEmail string
	Status         string
	Now            time.Time
}

type EmailLogStateUpdate struct {
	ID        string
	Status    string
	LastError string
	Now       time.Time
}

type ProviderDetailsUpdate struct {
	ID        string
	MessageID string
	Status    string
	Now       time.Time
}

type EmailLogForWorker struct {
	TenantID       string
	CampaignID     string
	RecipientEmail string
	Subject        string
	Body           string
	HTMLBody       string
	Status         string
	MessageID      string
}

// DeliveryUpdate overwrites delivery state on one correlated log row.
// Status transitions are last-write-wins; no state machine is enforced.
type DeliveryUpdate struct {
	ID            string
	Status        string
	EventType     string
	EventAt       time.Time
	SMTPResponse  string
	BounceType    string
	BounceSubType string
	ComplaintType string
	// MessageID backfills email_logs.message_id when it was never recorded.
	MessageID string
}

type EventInsert struct {
	ID                string
	EmailLogID        string
	SESMessageID      string
	SNSMessageID      string
	TopicARN          string
	EventType         string
	PayloadJSON       string
	SignatureVerified bool
}

type SuppressionInsert struct {
	ID       string
	TenantID string
	Email    string
	Reason   string
}
