// Package storage uploads image renditions to an S3-compatible object store.
package storage

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

	"github.com/samuba/blissbase-sub000/internal/config"
)

// Client wraps the S3 API for image uploads to an account-scoped
// R2-compatible endpoint.
type Client struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
	log           *slog.Logger
}

// NewClient creates an object-store client from static credentials. The
// endpoint is derived from the account identifier.
func NewClient(ctx context.Context, storageConfig config.StorageConfig, log *slog.Logger) (*Client, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", storageConfig.AccountID)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			storageConfig.AccessKeyID, storageConfig.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	log.Info("object store client created",
		"bucket", storageConfig.Bucket,
		"endpoint", endpoint,
	)

	return &Client{
		client:        s3Client,
		bucket:        storageConfig.Bucket,
		publicBaseURL: strings.TrimRight(storageConfig.PublicBaseURL, "/"),
		log:           log,
	}, nil
}

// Upload stores an object under the given key and returns its public URL.
func (c *Client) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	url := c.publicBaseURL + "/" + key
	c.log.Debug("object uploaded", "key", key, "bytes", len(body), "url", url)

	return url, nil
}
