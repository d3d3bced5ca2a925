package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// AWS Secrets Manager error codes this store classifies.
const (
	resourceNotFoundException = "ResourceNotFoundException"
	accessDeniedException     = "AccessDeniedException"
)

// ManagerAPI is the subset of the AWS Secrets Manager client this store
// uses, abstracted for testing with fakes.
type ManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// SecretsManager resolves secret references as AWS Secrets Manager
// secret names or ARNs.
type SecretsManager struct {
	api ManagerAPI
}

// NewSecretsManager creates a store using the AWS default configuration
// chain for credentials and region.
func NewSecretsManager(ctx context.Context) (*SecretsManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SecretsManager{api: secretsmanager.NewFromConfig(cfg)}, nil
}

// NewSecretsManagerWithAPI creates a store with an explicit API client,
// used by tests.
func NewSecretsManagerWithAPI(api ManagerAPI) *SecretsManager {
	return &SecretsManager{api: api}
}

// Get implements Store.
func (s *SecretsManager) Get(ctx context.Context, ref string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return "", classifyAWS(ref, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return *out.SecretString, nil
}

// Set implements Store. An existing secret gets a new version; a missing
// one is created.
func (s *SecretsManager) Set(ctx context.Context, ref, value string) error {
	_, err := s.api.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(ref),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}
	if !isAWSCode(err, resourceNotFoundException) {
		return fmt.Errorf("failed to store secret %q: %w", ref, err)
	}

	_, err = s.api.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(ref),
		SecretString: aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("failed to create secret %q: %w", ref, err)
	}
	return nil
}

// classifyAWS maps AWS API errors onto the store's error contract
// without leaking request details into the message.
func classifyAWS(ref string, err error) error {
	if isAWSCode(err, resourceNotFoundException) {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if isAWSCode(err, accessDeniedException) {
		return fmt.Errorf("access denied to secret %q: %w", ref, err)
	}
	return fmt.Errorf("failed to read secret %q: %w", ref, err)
}

func isAWSCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}
