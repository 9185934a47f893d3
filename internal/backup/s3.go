package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3 uploader parameters for backup uploads. Credentials
// come from the default AWS chain (environment, shared config, IMDS).
type S3Config struct {
	BucketURL string
	Endpoint  string
	Region    string
	UseSSL    bool
}

// objectPutter is the subset of *s3.Client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads backup files with a single PutObject per file.
type S3Uploader struct {
	bucket    string
	keyPrefix string
	client    objectPutter
}

// NewS3Uploader constructs an uploader from an S3 bucket URL.
// BucketURL format: s3://bucket/prefix (prefix optional).
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	bucket, prefix, err := parseS3BucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		bucket:    bucket,
		keyPrefix: prefix,
		client:    client,
	}, nil
}

// ObjectKey returns the key localPath is uploaded under.
func (u *S3Uploader) ObjectKey(localPath string) string {
	objectKey := path.Base(localPath)
	if u.keyPrefix != "" {
		objectKey = path.Join(u.keyPrefix, objectKey)
	}
	return objectKey
}

// UploadFile uploads localPath to the configured bucket and key prefix.
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

	contentType := "application/octet-stream"
	if strings.HasSuffix(localPath, ".gz") {
		contentType = "application/gzip"
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.ObjectKey(localPath)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3: put s3://%s/%s: %w", u.bucket, u.ObjectKey(localPath), err)
	}
	return nil
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "https://"
	if !useSSL {
		scheme = "http://"
	}
	return scheme + endpoint
}

func parseS3BucketURL(raw string) (bucket string, prefix string, err error) {
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

	prefix = strings.Trim(strings.TrimSpace(u.Path), "/")
	return u.Host, prefix, nil
}
