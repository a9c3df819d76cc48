package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"courier/internal/store"
)

// InTx runs fn inside one transaction. The reconciler uses this so that
// status updates, suppression entries and the audit row commit atomically.
func (s *Store) InTx(ctx context.Context, fn func(store.ReconcileTx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&reconcileTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type reconcileTx struct {
	tx pgx.Tx
}

func (r *reconcileTx) FindEventByDedupKey(ctx context.Context, snsMessageID, topicARN string) (store.EmailEvent, bool, error) {
	var e store.EmailEvent
	row := r.tx.QueryRow(ctx, `
		SELECT id, COALESCE(email_log_id,''), COALESCE(ses_message_id,''), COALESCE(sns_message_id,''),
		       COALESCE(topic_arn,''), event_type, received_at, signature_verified
		FROM email_events WHERE sns_message_id=$1 AND topic_arn=$2
	`, snsMessageID, topicARN)
	err := row.Scan(&e.ID, &e.EmailLogID, &e.SESMessageID, &e.SNSMessageID,
		&e.TopicARN, &e.EventType, &e.ReceivedAt, &e.SignatureVerified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.EmailEvent{}, false, nil
		}
		return store.EmailEvent{}, false, err
	}
	return e, true, nil
}

func (r *reconcileTx) FindLogsByMessageID(ctx context.Context, messageID string) ([]store.EmailLog, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, COALESCE(tenant_id,''), COALESCE(campaign_id,''), COALESCE(subscriber_id,''),
		       recipient_email, COALESCE(message_id,''), COALESCE(job_id,''), status,
		       COALESCE(last_event_type,''), last_event_at, COALESCE(last_smtp_response,''),
		       COALESCE(bounce_type,''), COALESCE(bounce_subtype,''), COALESCE(complaint_type,''),
		       created_at, updated_at
		FROM email_logs WHERE message_id=$1
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EmailLog
	for rows.Next() {
		var l store.EmailLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.SubscriberID,
			&l.RecipientEmail, &l.MessageID, &l.JobID, &l.Status,
			&l.LastEventType, &l.LastEventAt, &l.LastSMTPResponse,
			&l.BounceType, &l.BounceSubType, &l.ComplaintType,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *reconcileTx) ApplyDeliveryUpdate(ctx context.Context, in store.DeliveryUpdate) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE email_logs
		SET message_id=COALESCE(message_id, $2),
		    status=$3,
		    last_event_type=$4,
		    last_event_at=$5,
		    last_smtp_response=$6,
		    bounce_type=$7,
		    bounce_subtype=$8,
		    complaint_type=$9,
		    updated_at=now()
		WHERE id=$1
	`, in.ID, nullIfEmpty(in.MessageID), in.Status, in.EventType, in.EventAt,
		nullIfEmpty(in.SMTPResponse), nullIfEmpty(in.BounceType), nullIfEmpty(in.BounceSubType), nullIfEmpty(in.ComplaintType))
	return err
}

// Suppress writes the suppression entry and flips the matching subscriber
// inside a savepoint. A server-side error would otherwise abort the enclosing
// transaction and take the audit row and the other recipients down with it;
// rolling back the savepoint discards only this recipient's writes.
func (r *reconcileTx) Suppress(ctx context.Context, in store.SuppressionInsert) (bool, error) {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return false, err
	}
	ct, err := sp.Exec(ctx, `
		INSERT INTO suppressed_emails (id, tenant_id, email, reason, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id, email) DO NOTHING
	`, in.ID, in.TenantID, in.Email, nullIfEmpty(in.Reason))
	if err != nil {
		_ = sp.Rollback(ctx)
		return false, err
	}
	inserted := ct.RowsAffected() > 0
	if inserted {
		if _, err := sp.Exec(ctx, `
			UPDATE subscribers SET status='suppressed' WHERE tenant_id=$1 AND email=$2
		`, in.TenantID, in.Email); err != nil {
			_ = sp.Rollback(ctx)
			return false, err
		}
	}
	if err := sp.Commit(ctx); err != nil {
		return false, err
	}
	return inserted, nil
}

// TenantsForEmail runs in a savepoint for the same reason as Suppress: its
// caller treats a failed lookup as skip-this-recipient, not abort-everything.
func (r *reconcileTx) TenantsForEmail(ctx context.Context, email string) ([]string, error) {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	out, err := tenantsForEmail(ctx, sp, email)
	if err != nil {
		_ = sp.Rollback(ctx)
		return nil, err
	}
	if err := sp.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func tenantsForEmail(ctx context.Context, tx pgx.Tx, email string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT tenant_id FROM subscribers WHERE email=$1
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// InsertEvent reports whether the row was actually written. A concurrent
// redelivery of the same (sns_message_id, topic_arn) loses the conflict and
// degrades to a no-op instead of erroring.
func (r *reconcileTx) InsertEvent(ctx context.Context, in store.EventInsert) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		INSERT INTO email_events (id, email_log_id, ses_message_id, sns_message_id, topic_arn, event_type, received_at, payload_json, signature_verified)
		VALUES ($1,$2,$3,$4,$5,$6,now(),$7,$8)
		ON CONFLICT (sns_message_id, topic_arn) WHERE sns_message_id IS NOT NULL AND topic_arn IS NOT NULL DO NOTHING
	`, in.ID, nullIfEmpty(in.EmailLogID), nullIfEmpty(in.SESMessageID), nullIfEmpty(in.SNSMessageID),
		nullIfEmpty(in.TopicARN), in.EventType, in.PayloadJSON, in.SignatureVerified)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
