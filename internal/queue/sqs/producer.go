package sqsqueue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// EmailJob is one outbound send. Keep it small; SQS has a 256KB message size
// limit and campaign bodies ride along.
type EmailJob struct {
	EmailLogID string `json:"emailLogId"`
	TenantID   string `json:"tenantId,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	HTMLBody   string `json:"htmlBody,omitempty"`
}

type Producer struct {
	SQS      *sqs.Client
	QueueURL string
}

// EnqueueEmail submits the job and returns the SQS message id, recorded on
// the email_logs row as the background job handle.
func (p *Producer) EnqueueEmail(ctx context.Context, job EmailJob) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	out, err := p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
