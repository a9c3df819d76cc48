package ses

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsses "github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
)

type Client struct {
	SES    *awsses.Client
	Sender string
}

type SendRequest struct {
	Recipient string
	Subject   string
	TextBody  string
	HTMLBody  string
	Sender    string
}

// SendEmail submits one message and returns the SES message id, which later
// correlates inbound delivery notifications back to the email_logs row.
func (c *Client) SendEmail(ctx context.Context, req SendRequest) (string, error) {
	source := req.Sender
	if source == "" {
		source = c.Sender
	}
	html := req.HTMLBody
	if html == "" {
		html = req.TextBody
	}

	out, err := c.SES.SendEmail(ctx, &awsses.SendEmailInput{
		Source:      aws.String(source),
		Destination: &types.Destination{ToAddresses: []string{req.Recipient}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(req.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(req.TextBody)},
				Html: &types.Content{Data: aws.String(html)},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// Retry decision for transient errors
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "Throttling", "ThrottlingException", "ServiceUnavailable", "InternalFailure", "RequestTimeout":
			return true
		}
	}
	return false
}

func Backoff(attempt int) time.Duration {
	// 200ms, 600ms, 1400ms approx
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
