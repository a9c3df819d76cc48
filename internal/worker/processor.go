package worker

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"courier/internal/domain"
	"courier/internal/observability"
	"courier/internal/providers/ses"
	sqsqueue "courier/internal/queue/sqs"
	"courier/internal/store"
	"courier/internal/util"
)

const (
	maxSendAttempts = 3
	claimStaleAfter = 5 * time.Minute
)

type Store interface {
	ClaimEmailLog(ctx context.Context, logID string, now time.Time, staleAfter time.Duration) (bool, error)
	GetEmailLogForWorker(ctx context.Context, logID string) (store.EmailLogForWorker, error)
	SetProviderDetails(ctx context.Context, in store.ProviderDetailsUpdate) error
	MarkEmailLogState(ctx context.Context, in store.EmailLogStateUpdate) error
}

type Sender interface {
	SendEmail(ctx context.Context, req ses.SendRequest) (string, error)
}

// Processor delivers one EmailJob. Each job owns exactly one email_logs row,
// so there is no cross-job coordination; claiming the row makes redelivered
// jobs no-ops.
type Processor struct {
	Store   Store
	Sender  Sender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
}

func (p *Processor) Process(ctx context.Context, job sqsqueue.EmailJob) error {
	claimed, err := p.Store.ClaimEmailLog(ctx, job.EmailLogID, util.NowUTC(), claimStaleAfter)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker owns the row or it is already terminal.
		slog.Info("skipping unclaimable job", "email_log_id", job.EmailLogID)
		return nil
	}

	// The row is authoritative for the recipient; campaign content comes from
	// the campaigns join so edits after fan-out still apply. Transactional
	// subject and body only exist in the job payload.
	row, err := p.Store.GetEmailLogForWorker(ctx, job.EmailLogID)
	if err != nil {
		return err
	}
	if row.RecipientEmail != "" {
		job.Recipient = row.RecipientEmail
	}
	if row.Subject != "" {
		job.Subject = row.Subject
	}
	if row.Body != "" && job.Body == "" {
		job.Body = row.Body
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var messageID string
	var sendErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(ses.Backoff(attempt))
		}
		messageID, sendErr = p.send(ctx, job)
		if sendErr == nil || !ses.ShouldRetry(sendErr) {
			break
		}
		slog.Warn("ses send retry", "err", sendErr, "email_log_id", job.EmailLogID, "attempt", attempt)
	}

	now := util.NowUTC()
	if sendErr != nil {
		observability.SESSend.WithLabelValues("error").Inc()
		if ses.ShouldRetry(sendErr) || sendErr == gobreaker.ErrOpenState {
			// Leave the message on the queue; SQS redrive retries it and the
			// stale-claim window lets the retry reclaim the row.
			return sendErr
		}
		if err := p.Store.MarkEmailLogState(ctx, store.EmailLogStateUpdate{
			ID:        job.EmailLogID,
			Status:    string(domain.StateFailed),
			LastError: truncate(sendErr.Error(), 1024),
			Now:       now,
		}); err != nil {
			return err
		}
		slog.Error("ses send failed", "err", sendErr, "email_log_id", job.EmailLogID)
		return nil
	}

	observability.SESSend.WithLabelValues("ok").Inc()
	if err := p.Store.SetProviderDetails(ctx, store.ProviderDetailsUpdate{
		ID:        job.EmailLogID,
		MessageID: messageID,
		Status:    string(domain.StateSent),
		Now:       now,
	}); err != nil {
		return err
	}
	slog.Info("email sent", "email_log_id", job.EmailLogID, "ses_message_id", messageID)
	return nil
}

func (p *Processor) send(ctx context.Context, job sqsqueue.EmailJob) (string, error) {
	start := time.Now()
	defer func() {
		observability.SESLatency.Observe(time.Since(start).Seconds())
	}()

	req := ses.SendRequest{
		Recipient: job.Recipient,
		Subject:   job.Subject,
		TextBody:  job.Body,
		HTMLBody:  job.HTMLBody,
	}
	if p.Breaker == nil {
		return p.Sender.SendEmail(ctx, req)
	}
	out, err := p.Breaker.Execute(func() (any, error) {
		return p.Sender.SendEmail(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// truncate caps s at n bytes, backing up so the cut never splits a multi-byte
// rune; invalid UTF-8 would be rejected by the TEXT column.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
