// Package aws provides an AWS Secrets Manager secret provider.
//
// Credentials are loaded with the AWS SDK default chain (environment, shared
// config, instance metadata) when the provider is created.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/input-output-hk/forge-deploy/secrets"
)

// Name is the provider identifier.
const Name = "aws"

// AWS error codes mapped to secrets errors.
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the provider uses.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Provider resolves secrets from AWS Secrets Manager.
// It is safe for concurrent use.
type Provider struct {
	client SecretsManagerAPI
	logger *slog.Logger
}

var _ secrets.Provider = (*Provider)(nil)

// Config holds the provider configuration.
type Config struct {
	// Region overrides the region from the default AWS configuration.
	Region string

	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string

	Logger *slog.Logger
}

// Option configures the provider.
type Option func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom service endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// New loads the default AWS configuration and creates a provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, WithLogger(cfg.Logger)), nil
}

// NewWithClient creates a provider around an existing client.
func NewWithClient(client SecretsManagerAPI, opts ...Option) *Provider {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{client: client, logger: logger}
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return Name
}

// Close implements secrets.Provider. The SDK client holds nothing to release.
func (p *Provider) Close() error {
	return nil
}

// Resolve implements secrets.Resolver. ref.Version is sent as a version
// stage when it is one of the AWS staging labels and as a version ID otherwise.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	}
	switch ref.Version {
	case "":
	case "AWSCURRENT", "AWSPREVIOUS", "AWSPENDING":
		input.VersionStage = aws.String(ref.Version)
	default:
		input.VersionId = aws.String(ref.Version)
	}

	p.logger.DebugContext(ctx, "fetching secret", "secret_id", ref.Path)

	output, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, mapError(ref, err)
	}

	var value []byte
	switch {
	case output.SecretString != nil:
		value = []byte(*output.SecretString)
	case output.SecretBinary != nil:
		value = output.SecretBinary
	default:
		return nil, fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretEmpty)
	}

	secret := &secrets.Secret{
		Value:   value,
		Version: ref.Version,
	}
	if output.CreatedDate != nil {
		secret.CreatedAt = *output.CreatedDate
	}
	return secret, nil
}

func mapError(ref secrets.SecretRef, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case ResourceNotFoundException:
			return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
		case AccessDeniedException:
			return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrAccessDenied)
		}
		return fmt.Errorf("get secret %q failed: %s: %s: %w",
			ref.Path, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return fmt.Errorf("get secret %q: %w", ref.Path, err)
}
