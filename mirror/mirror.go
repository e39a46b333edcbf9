// Package mirror copies release packages to an S3 bucket so every shipped
// release stays retrievable after it is pruned from the hosts.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// DefaultContentType is used when the package content cannot be sniffed.
const DefaultContentType = "application/octet-stream"

const maxKeyLength = 1024

// API is the subset of the S3 client the mirror uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config locates the mirror bucket.
type Config struct {
	Bucket string

	// Prefix is prepended to every object key, e.g. "myproject/production".
	Prefix string

	// Region overrides the region from the default AWS configuration.
	Region string

	// Endpoint overrides the S3 endpoint, e.g. for MinIO or LocalStack.
	Endpoint string

	// ForcePathStyle selects path-style addressing, required by most
	// S3-compatible servers.
	ForcePathStyle bool
}

// Mirror uploads release packages.
type Mirror struct {
	api    API
	cfg    Config
	fs     billy.Filesystem
	logger *slog.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithFilesystem sets the filesystem packages are read from.
// Defaults to the OS filesystem rooted at "/".
func WithFilesystem(fs billy.Filesystem) Option {
	return func(m *Mirror) {
		m.fs = fs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = logger
	}
}

// New loads the default AWS configuration and creates a Mirror for cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, newError("init", "", "", fmt.Errorf("%w: bucket name cannot be empty", ErrInvalidInput))
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, newError("init", cfg.Bucket, "", fmt.Errorf("failed to load AWS config: %w", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewWithClient(client, cfg, opts...), nil
}

// NewWithClient creates a Mirror around an existing client.
func NewWithClient(api API, cfg Config, opts ...Option) *Mirror {
	m := &Mirror{
		api:    api,
		cfg:    cfg,
		fs:     osfs.New("/"),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UploadResult describes a mirrored package.
type UploadResult struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	Duration    time.Duration
}

// Key returns the object key for the package file name.
func (m *Mirror) Key(name string) string {
	return path.Join(m.cfg.Prefix, name)
}

// Upload copies the package at localPath to the bucket under Key(name).
// metadata is stored as object metadata, e.g. the release label and commit.
func (m *Mirror) Upload(ctx context.Context, localPath, name string, metadata map[string]string) (*UploadResult, error) {
	key := m.Key(name)
	if m.cfg.Bucket == "" {
		return nil, newError("upload", "", key, fmt.Errorf("%w: bucket name cannot be empty", ErrInvalidInput))
	}
	if err := validateKey(key); err != nil {
		return nil, newError("upload", m.cfg.Bucket, key, err)
	}

	info, err := m.fs.Stat(localPath)
	if err != nil {
		return nil, newError("upload", m.cfg.Bucket, key, err)
	}
	if info.IsDir() {
		return nil, newError("upload", m.cfg.Bucket, key, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, localPath))
	}

	contentType, err := m.detectContentType(localPath)
	if err != nil {
		return nil, newError("upload", m.cfg.Bucket, key, err)
	}

	file, err := m.fs.Open(localPath)
	if err != nil {
		return nil, newError("upload", m.cfg.Bucket, key, err)
	}
	defer file.Close()

	start := time.Now()
	_, err = m.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return nil, newError("upload", m.cfg.Bucket, key, convertAWSError(err))
	}

	result := &UploadResult{
		Bucket:      m.cfg.Bucket,
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		Duration:    time.Since(start),
	}
	m.logger.InfoContext(ctx, "package mirrored",
		"bucket", result.Bucket,
		"key", result.Key,
		"size", result.Size)
	return result, nil
}

func (m *Mirror) detectContentType(localPath string) (string, error) {
	file, err := m.fs.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if n == 0 {
		return DefaultContentType, nil
	}
	return mimetype.Detect(buf[:n]).String(), nil
}

func validateKey(key string) error {
	switch {
	case key == "" || key == ".":
		return fmt.Errorf("%w: object key cannot be empty", ErrInvalidInput)
	case len(key) > maxKeyLength:
		return fmt.Errorf("%w: object key longer than %d bytes", ErrInvalidInput, maxKeyLength)
	}
	return nil
}

func convertAWSError(err error) error {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case "AccessDenied":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	return err
}
