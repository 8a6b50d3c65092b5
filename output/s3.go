package output

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dhcgn/oft-to-eml/model"
)

// PutObjectAPI is the interface for the S3 PutObject operation.
// Used for testing with mock implementations.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options holds the configuration for creating an S3Sink. Credentials
// are optional; when absent the SDK default chain applies.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Sink uploads each document as an object under the configured
// bucket and prefix, typed message/rfc822.
type S3Sink struct {
	bucket string
	prefix string
	client PutObjectAPI
	logger *slog.Logger
}

func NewS3Sink(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Sink, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is empty")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return NewS3SinkWithClient(s3.NewFromConfig(awsCfg), opts.Bucket, opts.Prefix, logger), nil
}

// NewS3SinkWithClient creates an S3Sink with a custom client, used for testing.
func NewS3SinkWithClient(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *S3Sink {
	return &S3Sink{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		logger: logger,
	}
}

func (s *S3Sink) Store(ctx context.Context, conv model.Converted) error {
	key := conv.Name
	if s.prefix != "" {
		key = s.prefix + "/" + conv.Name
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(conv.Raw),
		ContentType: aws.String("message/rfc822"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.Debug("uploaded object", "bucket", s.bucket, "key", key, "size", conv.Size)
	return nil
}

func (s *S3Sink) Close() error { return nil }
