package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"courier/internal/domain"
	"courier/internal/observability"
	"courier/internal/providers/ses"
	"courier/internal/sns"
	"courier/internal/store"
	"courier/internal/util"
)

var (
	ErrTopicNotAllowed     = errors.New("topic not allowed")
	ErrSignatureInvalid    = errors.New("invalid sns signature")
	ErrUnsupportedType     = errors.New("unsupported sns message type")
	ErrMissingSubscribeURL = errors.New("missing SubscribeURL")
)

// errDuplicateEvent aborts the transaction when another delivery of the same
// notification already committed; the caller turns it into a no-op outcome.
var errDuplicateEvent = errors.New("duplicate notification")

const maxPayloadBytes = 32768

type Verifier interface {
	Verify(ctx context.Context, env *sns.Envelope) (bool, string)
	ConfirmSubscription(ctx context.Context, subscribeURL string) bool
}

// Policy controls how strict the inbound pipeline is. An empty topic
// allowlist is only acceptable in development; production rejects all traffic
// rather than accepting from any topic.
type Policy struct {
	AllowedTopicARNs []string
	VerifySignatures bool
	SkipVerification bool
	Development      bool
}

type Outcome struct {
	Status            string `json:"status"`
	EventType         string `json:"-"`
	Matched           int    `json:"-"`
	Duplicate         bool   `json:"-"`
	SignatureVerified bool   `json:"-"`
}

// Reconciler correlates inbound SNS notifications against the delivery log,
// updates delivery state, derives suppression entries and writes the audit
// record — one transaction per notification.
type Reconciler struct {
	Store    store.TxRunner
	Verifier Verifier
	Policy   Policy
}

func (r *Reconciler) Reconcile(ctx context.Context, env *sns.Envelope) (Outcome, error) {
	slog.Info("sns event received",
		"sns_message_id", env.MessageID,
		"type", env.Type,
		"topic_arn", env.TopicARN,
	)

	if err := r.checkTopic(env.TopicARN); err != nil {
		slog.Warn("rejected sns message", "sns_message_id", env.MessageID, "topic_arn", env.TopicARN, "err", err)
		return Outcome{}, err
	}

	verified := false
	skip := r.Policy.Development && r.Policy.SkipVerification
	if r.Policy.VerifySignatures && !skip {
		ok, reason := r.Verifier.Verify(ctx, env)
		if !ok {
			slog.Warn("rejected sns message", "sns_message_id", env.MessageID, "reason", reason)
			return Outcome{}, fmt.Errorf("%w: %s", ErrSignatureInvalid, reason)
		}
		verified = true
	}

	switch env.Type {
	case sns.TypeSubscriptionConfirmation:
		if env.SubscribeURL == "" {
			return Outcome{}, ErrMissingSubscribeURL
		}
		confirmed := r.Verifier.ConfirmSubscription(ctx, env.SubscribeURL)
		slog.Info("sns subscription confirmation", "confirmed", confirmed, "sns_message_id", env.MessageID)
		if confirmed {
			return Outcome{Status: "confirmed"}, nil
		}
		return Outcome{Status: "confirmation-failed"}, nil
	case sns.TypeUnsubscribeConfirmation:
		slog.Info("sns unsubscribe confirmation", "sns_message_id", env.MessageID)
		return Outcome{Status: "ok"}, nil
	case sns.TypeNotification:
		// fall through to classification
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}

	ev, err := ses.Classify(env.Message)
	if err != nil {
		return Outcome{}, err
	}
	observability.SNSEvents.WithLabelValues(ev.Type).Inc()

	out := Outcome{
		Status:            string(domain.StateForEvent(ev.Type)),
		EventType:         ev.Type,
		SignatureVerified: verified,
	}

	err = r.Store.InTx(ctx, func(tx store.ReconcileTx) error {
		// Dedup before any mutation: a redelivered notification must not
		// reprocess. Both halves of the key have to be present.
		if env.MessageID != "" && env.TopicARN != "" {
			prior, found, err := tx.FindEventByDedupKey(ctx, env.MessageID, env.TopicARN)
			if err != nil {
				return err
			}
			if found {
				out.Status = string(domain.StateForEvent(prior.EventType))
				out.EventType = prior.EventType
				return errDuplicateEvent
			}
		}

		logs, err := r.correlate(ctx, tx, ev)
		if err != nil {
			return err
		}
		out.Matched = len(logs)

		eventAt := util.NowUTC()
		if ev.Timestamp != nil {
			eventAt = *ev.Timestamp
		}
		for _, l := range logs {
			if err := tx.ApplyDeliveryUpdate(ctx, store.DeliveryUpdate{
				ID:            l.ID,
				Status:        string(domain.StateForEvent(ev.Type)),
				EventType:     ev.Type,
				EventAt:       eventAt,
				SMTPResponse:  truncate(ev.SMTPResponse, 1024),
				BounceType:    ev.BounceType,
				BounceSubType: ev.BounceSubType,
				ComplaintType: ev.ComplaintFeedbackType,
				MessageID:     ev.ProviderMessageID,
			}); err != nil {
				return err
			}
		}

		r.applySuppression(ctx, tx, ev, logs)

		logID := ""
		if len(logs) > 0 {
			logID = logs[0].ID
		} else {
			observability.Uncorrelated.Inc()
			slog.Warn("no email log matched for notification",
				"ses_message_id", ev.ProviderMessageID,
				"sns_message_id", env.MessageID,
				"event_type", ev.Type,
			)
		}

		inserted, err := tx.InsertEvent(ctx, store.EventInsert{
			ID:                util.NewEventID(),
			EmailLogID:        logID,
			SESMessageID:      ev.ProviderMessageID,
			SNSMessageID:      env.MessageID,
			TopicARN:          env.TopicARN,
			EventType:         ev.Type,
			PayloadJSON:       marshalPayload(env),
			SignatureVerified: verified,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// Lost the race against a concurrent delivery of the same
			// notification: roll everything back and report a no-op.
			return errDuplicateEvent
		}
		return nil
	})
	if errors.Is(err, errDuplicateEvent) {
		observability.SNSDuplicates.Inc()
		out.Duplicate = true
		out.Matched = 0
		return out, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (r *Reconciler) checkTopic(topicARN string) error {
	if len(r.Policy.AllowedTopicARNs) == 0 {
		if r.Policy.Development {
			return nil
		}
		return fmt.Errorf("%w: no topics configured", ErrTopicNotAllowed)
	}
	for _, arn := range r.Policy.AllowedTopicARNs {
		if arn == topicARN {
			return nil
		}
	}
	return ErrTopicNotAllowed
}

// correlate finds candidate log rows by provider message id, narrowed to the
// event's recipients when that intersection is non-empty. The fallback to the
// unnarrowed set covers rows whose recipient_email was never populated.
func (r *Reconciler) correlate(ctx context.Context, tx store.ReconcileTx, ev ses.Event) ([]store.EmailLog, error) {
	if ev.ProviderMessageID == "" {
		return nil, nil
	}
	logs, err := tx.FindLogsByMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		return nil, err
	}
	if len(ev.Recipients) == 0 {
		return logs, nil
	}
	recipients := make(map[string]bool, len(ev.Recipients))
	for _, email := range ev.Recipients {
		recipients[util.NormalizeEmail(email)] = true
	}
	var narrowed []store.EmailLog
	for _, l := range logs {
		if recipients[util.NormalizeEmail(l.RecipientEmail)] {
			narrowed = append(narrowed, l)
		}
	}
	if len(narrowed) > 0 {
		return narrowed, nil
	}
	return logs, nil
}

// applySuppression is best-effort: one bad recipient must never abort the
// others or the transaction. Complaints always suppress; bounces only when
// classified permanent.
func (r *Reconciler) applySuppression(ctx context.Context, tx store.ReconcileTx, ev ses.Event, logs []store.EmailLog) {
	if ev.Type != "bounce" && ev.Type != "complaint" {
		return
	}
	if ev.Type == "bounce" && !ev.PermanentBounce() {
		return
	}

	var logTenants []string
	seen := make(map[string]bool)
	for _, l := range logs {
		if l.TenantID != "" && !seen[l.TenantID] {
			seen[l.TenantID] = true
			logTenants = append(logTenants, l.TenantID)
		}
	}

	reason := ev.Type
	for _, recipient := range ev.SuppressionRecipients() {
		tenants := logTenants
		if len(tenants) == 0 {
			// No tenant on any matched row (or no rows at all): fall back to
			// subscriber lookup by address.
			var err error
			tenants, err = tx.TenantsForEmail(ctx, recipient)
			if err != nil {
				slog.Error("suppression tenant lookup failed", "err", err, "email", recipient)
				continue
			}
		}
		if len(tenants) == 0 {
			slog.Warn("no tenant attributable; skipping suppression", "email", recipient)
			continue
		}
		for _, tenantID := range tenants {
			if err := r.suppress(ctx, tx, tenantID, recipient, reason); err != nil {
				slog.Error("failed to update suppression", "err", err, "tenant_id", tenantID, "email", recipient)
			}
		}
	}
}

func (r *Reconciler) suppress(ctx context.Context, tx store.ReconcileTx, tenantID, email, reason string) error {
	inserted, err := tx.Suppress(ctx, store.SuppressionInsert{
		ID:       util.NewSuppressionID(),
		TenantID: tenantID,
		Email:    email,
		Reason:   reason,
	})
	if err != nil {
		return err
	}
	if inserted {
		observability.Suppressions.WithLabelValues(reason).Inc()
	}
	return nil
}

func marshalPayload(env *sns.Envelope) string {
	b, err := json.Marshal(env)
	if err != nil {
		return ""
	}
	return truncate(string(b), maxPayloadBytes)
}

// truncate caps s at n bytes without splitting a multi-byte rune; a cut that
// lands mid-rune backs up to the previous boundary. Postgres rejects TEXT
// values containing invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
