package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "laitest/reports"

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) (Uploader, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}, nil
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("laitest write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.prefix() + "/.laitest-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

func (u *s3Uploader) UploadReport(
	ctx context.Context, runID, name string, body []byte,
) (string, error) {
	key := u.resolveKey(runID, name)

	if err := u.put(ctx, key, bytes.NewReader(body), detectContentType(name)); err != nil {
		return "", fmt.Errorf("uploading report for %s: %w", runID, err)
	}

	return u.uri(key), nil
}

func (u *s3Uploader) UploadFile(
	ctx context.Context, runID, localPath string,
) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := u.resolveKey(runID, filepath.Base(localPath))

	if err := u.put(ctx, key, f, detectContentType(localPath)); err != nil {
		return "", fmt.Errorf("uploading %s: %w", localPath, err)
	}

	return u.uri(key), nil
}

func (u *s3Uploader) put(
	ctx context.Context, key string, body io.Reader, contentType string,
) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading object")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Info("Upload completed")

	return nil
}

func (u *s3Uploader) prefix() string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return strings.TrimRight(prefix, "/")
}

// resolveKey builds the object key for a file belonging to a run.
func (u *s3Uploader) resolveKey(runID, name string) string {
	return u.prefix() + "/" + runID + "/" + name
}

func (u *s3Uploader) uri(key string) string {
	return "s3://" + u.cfg.Bucket + "/" + key
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
