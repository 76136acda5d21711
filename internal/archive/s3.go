package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	defaultS3Region   = "us-east-1"
	defaultS3Timeout  = 30 * time.Second
	defaultS3Attempts = 3
)

// S3Config holds S3 uploader parameters.
type S3Config struct {
	BucketURL    string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UsePathStyle bool
	ContentType  string
	Timeout      time.Duration
	Attempts     int
}

// S3Uploader puts archive artifacts into a bucket.
type S3Uploader struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	cfg       S3Config
}

// NewS3Uploader builds an uploader for BucketURL (s3://bucket/prefix). Static
// credentials are used when both keys are set, otherwise the default chain.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	bucket, prefix, err := parseS3BucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultS3Region
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultS3Timeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultS3Attempts
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normalizeEndpoint(cfg.Endpoint))
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Uploader{client: client, bucket: bucket, keyPrefix: prefix, cfg: cfg}, nil
}

// ObjectKey returns the key localPath is uploaded under.
func (u *S3Uploader) ObjectKey(localPath string) string {
	return objectKey(u.keyPrefix, localPath)
}

// UploadFile uploads localPath, retrying with capped exponential backoff.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3: open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("s3: stat %s: %w", localPath, err)
	}

	key := u.ObjectKey(localPath)
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= u.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 2*time.Second)
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("s3: rewind %s: %w", localPath, err)
			}
		}
		if lastErr = u.put(ctx, key, f, info.Size()); lastErr == nil {
			return nil
		}
		entry := log.WithError(lastErr).WithField("attempt", attempt)
		var apiErr smithy.APIError
		if errors.As(lastErr, &apiErr) {
			entry = entry.WithField("code", apiErr.ErrorCode())
		}
		entry.Warn("s3 upload failed")
	}
	return fmt.Errorf("s3: upload %s: %w", key, lastErr)
}

func (u *S3Uploader) put(ctx context.Context, key string, body *os.File, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if u.cfg.ContentType != "" {
		input.ContentType = aws.String(u.cfg.ContentType)
	}
	_, err := u.client.PutObject(ctx, input)
	return err
}

func objectKey(prefix, localPath string) string {
	name := path.Base(strings.ReplaceAll(localPath, "\\", "/"))
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

func parseS3BucketURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse bucket-url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: bucket-url must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", fmt.Errorf("s3: bucket-url missing bucket name")
	}
	return u.Host, strings.Trim(strings.TrimSpace(u.Path), "/"), nil
}
