package awsx

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Config is filled from AWS_* variables. Static keys are optional; when they
// are empty the default credential chain applies.
type Config struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `envconfig:"AWS_SESSION_TOKEN"`
}

// Configured reports whether explicit credentials were supplied.
func (c Config) Configured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func (c Config) Load(ctx context.Context) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
	}
	if c.Configured() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}
