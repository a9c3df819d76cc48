package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"courier/internal/domain"
	"courier/internal/observability"
	sqsqueue "courier/internal/queue/sqs"
	"courier/internal/store"
	"courier/internal/util"
)

var ErrCampaignNotFound = errors.New("campaign not found")

type Store interface {
	InsertEmailLog(ctx context.Context, in store.EmailLogInsert) error
	MarkEmailLogState(ctx context.Context, in store.EmailLogStateUpdate) error
	SetEmailLogJobID(ctx context.Context, id, jobID string, now time.Time) error
	IsSuppressed(ctx context.Context, tenantID, email string) (bool, error)
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	MarkCampaignStatus(ctx context.Context, id, status string) error
	ActiveRecipients(ctx context.Context, tenantID string) ([]store.Subscriber, error)
}

type Queue interface {
	EnqueueEmail(ctx context.Context, job sqsqueue.EmailJob) (string, error)
}

// SendService owns the outbound path: it creates delivery log rows and hands
// jobs to the queue. The queue client is constructed by main and passed in;
// nothing here lazily dials anything.
type SendService struct {
	Store Store
	Queue Queue
}

// CreateAndEnqueueEmail records one send attempt and enqueues its delivery
// job. Suppressed recipients short-circuit before anything is enqueued.
func (s *SendService) CreateAndEnqueueEmail(ctx context.Context, req domain.SendEmailRequest, logID string, now time.Time) (domain.CreateResponse, error) {
	req.Recipient = util.NormalizeEmail(req.Recipient)

	if req.TenantID != "" {
		suppressed, err := s.Store.IsSuppressed(ctx, req.TenantID, req.Recipient)
		if err != nil {
			return domain.CreateResponse{}, err
		}
		if suppressed {
			observability.Suppressed.WithLabelValues("suppression_list").Inc()
			if err := s.Store.InsertEmailLog(ctx, store.EmailLogInsert{
				ID: logID, TenantID: req.TenantID, RecipientEmail: req.Recipient,
				Status: string(domain.StateSuppressed), Now: now,
			}); err != nil {
				return domain.CreateResponse{}, err
			}
			return domain.CreateResponse{EmailLogID: logID, State: string(domain.StateSuppressed)}, nil
		}
	}

	if err := s.Store.InsertEmailLog(ctx, store.EmailLogInsert{
		ID: logID, TenantID: req.TenantID, RecipientEmail: req.Recipient,
		Status: string(domain.StateQueued), Now: now,
	}); err != nil {
		return domain.CreateResponse{}, err
	}

	jobID, err := s.Queue.EnqueueEmail(ctx, sqsqueue.EmailJob{
		EmailLogID: logID,
		TenantID:   req.TenantID,
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Body:       req.Body,
		HTMLBody:   req.HTMLBody,
	})
	if err != nil {
		observability.Enqueues.WithLabelValues("error").Inc()
		if markErr := s.Store.MarkEmailLogState(ctx, store.EmailLogStateUpdate{
			ID: logID, Status: string(domain.StateFailed), LastError: "enqueue_failed", Now: now,
		}); markErr != nil {
			slog.Error("mark enqueue failure failed", "err", markErr, "email_log_id", logID)
		}
		return domain.CreateResponse{}, err
	}
	observability.Enqueues.WithLabelValues("ok").Inc()

	if err := s.Store.SetEmailLogJobID(ctx, logID, jobID, now); err != nil {
		slog.Error("set job id failed", "err", err, "email_log_id", logID, "job_id", jobID)
	}

	return domain.CreateResponse{EmailLogID: logID, State: string(domain.StateQueued)}, nil
}

// EnqueueCampaign fans a campaign out to every active, non-suppressed
// subscriber of its tenant: one log row and one job per recipient. A failed
// enqueue marks its own row failed and does not stop the rest.
func (s *SendService) EnqueueCampaign(ctx context.Context, campaignID string, now time.Time) (int, error) {
	campaign, found, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrCampaignNotFound
	}

	recipients, err := s.Store.ActiveRecipients(ctx, campaign.TenantID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, sub := range recipients {
		logID := util.NewEmailLogID()
		if err := s.Store.InsertEmailLog(ctx, store.EmailLogInsert{
			ID:             logID,
			TenantID:       campaign.TenantID,
			CampaignID:     campaign.ID,
			SubscriberID:   sub.ID,
			RecipientEmail: sub.Email,
			Status:         string(domain.StateQueued),
			Now:            now,
		}); err != nil {
			return enqueued, err
		}

		body := util.RenderTemplate(campaign.Body, map[string]string{
			"firstName": sub.FirstName,
			"lastName":  sub.LastName,
			"email":     sub.Email,
		})
		jobID, err := s.Queue.EnqueueEmail(ctx, sqsqueue.EmailJob{
			EmailLogID: logID,
			TenantID:   campaign.TenantID,
			CampaignID: campaign.ID,
			Recipient:  sub.Email,
			Subject:    campaign.Subject,
			Body:       body,
		})
		if err != nil {
			observability.Enqueues.WithLabelValues("error").Inc()
			slog.Error("campaign enqueue failed", "err", err, "campaign_id", campaign.ID, "email_log_id", logID)
			if markErr := s.Store.MarkEmailLogState(ctx, store.EmailLogStateUpdate{
				ID: logID, Status: string(domain.StateFailed), LastError: "enqueue_failed", Now: now,
			}); markErr != nil {
				slog.Error("mark enqueue failure failed", "err", markErr, "email_log_id", logID)
			}
			continue
		}
		observability.Enqueues.WithLabelValues("ok").Inc()

		if err := s.Store.SetEmailLogJobID(ctx, logID, jobID, now); err != nil {
			slog.Error("set job id failed", "err", err, "email_log_id", logID, "job_id", jobID)
		}
		enqueued++
	}

	if err := s.Store.MarkCampaignStatus(ctx, campaign.ID, "sending"); err != nil {
		slog.Error("mark campaign status failed", "err", err, "campaign_id", campaign.ID)
	}

	slog.Info("campaign enqueued", "campaign_id", campaign.ID, "recipients", enqueued)
	return enqueued, nil
}
