package awsutil

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	configv2 "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func loadConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	opts := []func(*configv2.LoadOptions) error{
		configv2.WithRegion(region),
	}

	// If a LocalStack endpoint is set, use static dummy creds (LocalStack accepts these)
	if endpoint != "" {
		opts = append(opts, configv2.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	return configv2.LoadDefaultConfig(ctx, opts...)
}

func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT") // e.g. http://localhost:4566

	cfg, err := loadConfig(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}

	if endpoint != "" {
		return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		}), nil
	}
	return sqs.NewFromConfig(cfg), nil
}

func NewSESClient(ctx context.Context, region string) (*ses.Client, error) {
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")

	cfg, err := loadConfig(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}

	if endpoint != "" {
		return ses.NewFromConfig(cfg, func(o *ses.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		}), nil
	}
	return ses.NewFromConfig(cfg), nil
}
