package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsClient is the subset of the Secrets Manager API used here.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func newSecretsClient(ctx context.Context, region string) (SecretsClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return secretsmanager.NewFromConfig(cfg), nil
}

// loadAWSSecrets merges a JSON object secret into the environment.
// Variables already set win unless AWS_SECRETS_MANAGER_OVERWRITE=true.
// Nothing happens when no secret id is configured.
func loadAWSSecrets(ctx context.Context, newClient func(context.Context, string) (SecretsClient, error)) error {
	secretID := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID")
	if secretID == "" {
		return nil
	}

	versionStage := os.Getenv("AWS_SECRETS_MANAGER_VERSION_STAGE")
	if versionStage == "" {
		versionStage = "AWSCURRENT"
	}

	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")

	client, err := newClient(ctx, os.Getenv("AWS_SECRETS_MANAGER_REGION"))
	if err != nil {
		return err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(versionStage),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string

	switch {
	case out.SecretString != nil:
		payload = *out.SecretString
	case len(out.SecretBinary) > 0:
		payload = string(out.SecretBinary)
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	applied, err := applySecret(payload, overwrite)
	if err != nil {
		return fmt.Errorf("secret %s: %w", secretID, err)
	}

	log.Printf("loaded %d env vars from AWS Secrets Manager secret %s", applied, secretID)

	return nil
}

// applySecret sets each key of a JSON object as an environment variable
// and returns how many were set.
func applySecret(payload string, overwrite bool) (int, error) {
	var kv map[string]any
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return 0, fmt.Errorf("parsing secret as JSON object: %w", err)
	}

	applied := 0

	for key, val := range kv {
		if !overwrite && os.Getenv(key) != "" {
			continue
		}

		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return applied, fmt.Errorf("setting env %s: %w", key, err)
		}

		applied++
	}

	return applied, nil
}
