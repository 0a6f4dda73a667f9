// Package objectstore provides the S3-compatible blob store used for
// uploaded documents.
//
// Purpose:
//   Documents never travel through the API services as payloads. The content
//   API hands clients a presigned PUT URL; the ingestion worker fetches the
//   object by key when processing starts. This package wraps both sides.
//
// Dependencies:
//   - github.com/aws/aws-sdk-go-v2: S3 client and presigner
//
// Key Responsibilities:
//   - Presigned PUT URL generation for direct browser/client uploads
//   - Object fetch for the ingestion worker
//   - Best-effort object deletion when a document is removed
//
// Thread Safety:
//   - Client is safe for concurrent use.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store abstracts the blob backend so tests can swap in a fake.
type Store interface {
	PresignUpload(ctx context.Context, key, contentType string, size int64) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config configures the S3 client. Endpoint is set for MinIO and other
// S3-compatible stores; empty means real AWS.
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UploadURLTTL time.Duration
}

// Client is the S3-backed Store.
type Client struct {
	s3        *s3.Client
	presigner *s3.PresignClient
	bucket    string
	uploadTTL time.Duration
}

// New creates an S3 client. Path-style addressing is enabled whenever a
// custom endpoint is configured, which MinIO requires.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.UploadURLTTL <= 0 {
		cfg.UploadURLTTL = 15 * time.Minute
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:        client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		uploadTTL: cfg.UploadURLTTL,
	}, nil
}

// PresignUpload returns a presigned PUT URL the client uses to upload the
// object directly. The signed request pins content type and length so the
// client cannot swap in a different payload.
func (c *Client) PresignUpload(ctx context.Context, key, contentType string, size int64) (string, error) {
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = c.uploadTTL
	})
	if err != nil {
		return "", fmt.Errorf("presign put request: %w", err)
	}
	return req.URL, nil
}

// Fetch downloads the full object.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object. Missing keys do not error, which keeps document
// deletion idempotent.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
