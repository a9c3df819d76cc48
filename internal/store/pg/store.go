package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InsertTenant(ctx context.Context, t store.Tenant) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tenants (id, name, contact_email, ses_verified, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, t.ID, t.Name, t.ContactEmail, t.SESVerified, t.CreatedAt)
	return err
}

func (s *Store) GetTenant(ctx context.Context, id string) (store.Tenant, bool, error) {
	var t store.Tenant
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, contact_email, ses_verified, created_at FROM tenants WHERE id=$1
	`, id)
	err := row.Scan(&t.ID, &t.Name, &t.ContactEmail, &t.SESVerified, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Tenant{}, false, nil
		}
		return store.Tenant{}, false, err
	}
	return t, true, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]store.Tenant, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, contact_email, ses_verified, created_at FROM tenants ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Tenant
	for rows.Next() {
		var t store.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.ContactEmail, &t.SESVerified, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertCampaign(ctx context.Context, c store.Campaign) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaigns (id, tenant_id, name, subject, body, status, scheduled_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.TenantID, c.Name, c.Subject, c.Body, c.Status, c.ScheduledAt, c.CreatedAt)
	return err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error) {
	var c store.Campaign
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, name, subject, body, status, scheduled_at, created_at
		FROM campaigns WHERE id=$1
	`, id)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Subject, &c.Body, &c.Status, &c.ScheduledAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Campaign{}, false, nil
		}
		return store.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListCampaigns(ctx context.Context, tenantID string) ([]store.Campaign, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, name, subject, body, status, scheduled_at, created_at
		FROM campaigns WHERE ($1='' OR tenant_id=$1) ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Campaign
	for rows.Next() {
		var c store.Campaign
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Subject, &c.Body, &c.Status, &c.ScheduledAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MarkCampaignStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.Exec(ctx, `UPDATE campaigns SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (s *Store) InsertSubscriber(ctx context.Context, sub store.Subscriber) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO subscribers (id, tenant_id, email, first_name, last_name, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sub.ID, sub.TenantID, sub.Email, nullIfEmpty(sub.FirstName), nullIfEmpty(sub.LastName), sub.Status, sub.CreatedAt)
	return err
}

func (s *Store) ListSubscribers(ctx context.Context, tenantID string) ([]store.Subscriber, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, email, COALESCE(first_name,''), COALESCE(last_name,''), status, created_at
		FROM subscribers WHERE tenant_id=$1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Subscriber
	for rows.Next() {
		var sub store.Subscriber
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.Email, &sub.FirstName, &sub.LastName, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ActiveRecipients lists active subscribers of a tenant excluding anyone on
// the tenant's suppression list. Used for campaign fan-out.
func (s *Store) ActiveRecipients(ctx context.Context, tenantID string) ([]store.Subscriber, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT sub.id, sub.tenant_id, sub.email, COALESCE(sub.first_name,''), COALESCE(sub.last_name,''), sub.status, sub.created_at
		FROM subscribers sub
		WHERE sub.tenant_id=$1 AND sub.status='active'
		  AND NOT EXISTS (
			SELECT 1 FROM suppressed_emails se
			WHERE se.tenant_id=sub.tenant_id AND se.email=sub.email
		  )
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Subscriber
	for rows.Next() {
		var sub store.Subscriber
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.Email, &sub.FirstName, &sub.LastName, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) IsSuppressed(ctx context.Context, tenantID, email string) (bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT 1 FROM suppressed_emails WHERE tenant_id=$1 AND email=$2`, tenantID, email)
	var one int
	err := row.Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InsertSuppression is idempotent; it reports whether a new entry was created.
func (s *Store) InsertSuppression(ctx context.Context, in store.SuppressionInsert) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO suppressed_emails (id, tenant_id, email, reason, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id, email) DO NOTHING
	`, in.ID, in.TenantID, in.Email, nullIfEmpty(in.Reason))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListSuppressions(ctx context.Context, tenantID string) ([]store.Suppression, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, email, COALESCE(reason,''), created_at
		FROM suppressed_emails WHERE ($1='' OR tenant_id=$1) ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Suppression
	for rows.Next() {
		var sup store.Suppression
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Email, &sup.Reason, &sup.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

// DeleteSuppression is the out-of-band administrative removal; entries are
// never mutated in place.
func (s *Store) DeleteSuppression(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM suppressed_emails WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) InsertEmailLog(ctx context.Context, in store.EmailLogInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO email_logs (id, tenant_id, campaign_id, subscriber_id, recipient_email, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	`, in.ID, nullIfEmpty(in.TenantID), nullIfEmpty(in.CampaignID), nullIfEmpty(in.SubscriberID), in.RecipientEmail, in.Status, in.Now)
	return err
}

func (s *Store) GetEmailLog(ctx context.Context, id string) (store.EmailLog, bool, error) {
	var l store.EmailLog
	row := s.DB.QueryRow(ctx, `
		SELECT id, COALESCE(tenant_id,''), COALESCE(campaign_id,''), COALESCE(subscriber_id,''),
		       recipient_email, COALESCE(message_id,''), COALESCE(job_id,''), status,
		       COALESCE(last_event_type,''), last_event_at, COALESCE(last_smtp_response,''),
		       COALESCE(bounce_type,''), COALESCE(bounce_subtype,''), COALESCE(complaint_type,''),
		       created_at, updated_at
		FROM email_logs WHERE id=$1
	`, id)
	err := row.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.SubscriberID,
		&l.RecipientEmail, &l.MessageID, &l.JobID, &l.Status,
		&l.LastEventType, &l.LastEventAt, &l.LastSMTPResponse,
		&l.BounceType, &l.BounceSubType, &l.ComplaintType,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.EmailLog{}, false, nil
		}
		return store.EmailLog{}, false, err
	}
	return l, true, nil
}

func (s *Store) ListEmailLogs(ctx context.Context, tenantID, campaignID string) ([]store.EmailLog, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, COALESCE(tenant_id,''), COALESCE(campaign_id,''), COALESCE(subscriber_id,''),
		       recipient_email, COALESCE(message_id,''), COALESCE(job_id,''), status,
		       COALESCE(last_event_type,''), last_event_at, COALESCE(last_smtp_response,''),
		       COALESCE(bounce_type,''), COALESCE(bounce_subtype,''), COALESCE(complaint_type,''),
		       created_at, updated_at
		FROM email_logs
		WHERE ($1='' OR tenant_id=$1) AND ($2='' OR campaign_id=$2)
		ORDER BY created_at DESC
	`, tenantID, campaignID)
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

func (s *Store) MarkEmailLogState(ctx context.Context, in store.EmailLogStateUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE email_logs SET status=$2, last_smtp_response=$3, updated_at=$4 WHERE id=$1
	`, in.ID, in.Status, nullIfEmpty(in.LastError), in.Now)
	return err
}

func (s *Store) SetEmailLogJobID(ctx context.Context, id, jobID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE email_logs SET job_id=$2, updated_at=$3 WHERE id=$1
	`, id, jobID, now)
	return err
}

func (s *Store) SetProviderDetails(ctx context.Context, in store.ProviderDetailsUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE email_logs SET message_id=$2, status=$3, last_event_type='send', last_event_at=$4, updated_at=$4
		WHERE id=$1
	`, in.ID, in.MessageID, in.Status, in.Now)
	return err
}

func (s *Store) GetEmailLogForWorker(ctx context.Context, logID string) (store.EmailLogForWorker, error) {
	var out store.EmailLogForWorker
	row := s.DB.QueryRow(ctx, `
		SELECT COALESCE(l.tenant_id,''), COALESCE(l.campaign_id,''), l.recipient_email, l.status, COALESCE(l.message_id,''),
		       COALESCE(c.subject,''), COALESCE(c.body,'')
		FROM email_logs l
		LEFT JOIN campaigns c ON c.id = l.campaign_id
		WHERE l.id=$1
	`, logID)
	err := row.Scan(&out.TenantID, &out.CampaignID, &out.RecipientEmail, &out.Status, &out.MessageID, &out.Subject, &out.Body)
	if err != nil {
		return store.EmailLogForWorker{}, err
	}
	return out, nil
}

// ClaimEmailLog attempts to move a log row into sending state. It allows
// reclaiming if the row is still "sending" but stale, so a crashed worker's
// redelivered job can pick it back up.
func (s *Store) ClaimEmailLog(ctx context.Context, logID string, now time.Time, staleAfter time.Duration) (bool, error) {
	staleBefore := now.Add(-staleAfter)
	ct, err := s.DB.Exec(ctx, `
		UPDATE email_logs
		SET status=$2, updated_at=$3
		WHERE id=$1 AND (status='queued' OR (status='sending' AND updated_at < $4))
	`, logID, "sending", now, staleBefore)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
