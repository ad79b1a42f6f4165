// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package secrets resolves provider API keys from secret references.
// Production deployments keep keys in AWS Secrets Manager and configure
// models with secret ARNs; development falls back to environment
// variables or literal values.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// DefaultCacheTTL is how long a resolved secret stays cached. Rotation
// takes effect within this window without a gateway restart.
const DefaultCacheTTL = 5 * time.Minute

// Resolver resolves a secret reference to its value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// secretsAPI is the slice of the Secrets Manager client we use.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// cachedSecret holds a resolved value and its expiry.
type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// AWSResolver fetches secrets from AWS Secrets Manager with a TTL cache.
// Secrets stored as JSON objects resolve through the "api_key" or
// "value" key; anything else is returned verbatim.
type AWSResolver struct {
	client secretsAPI
	ttl    time.Duration
	logger *log.Logger

	mu    sync.RWMutex
	cache map[string]cachedSecret
	now   func() time.Time
}

// NewAWSResolver creates a resolver backed by AWS Secrets Manager in the
// given region.
func NewAWSResolver(ctx context.Context, region string) (*AWSResolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSResolver(secretsmanager.NewFromConfig(cfg)), nil
}

func newAWSResolver(client secretsAPI) *AWSResolver {
	return &AWSResolver{
		client: client,
		ttl:    DefaultCacheTTL,
		logger: log.New(os.Stdout, "[SECRETS] ", log.LstdFlags),
		cache:  make(map[string]cachedSecret),
		now:    time.Now,
	}
}

// Resolve returns the secret value for an ARN, serving from cache when
// fresh.
func (r *AWSResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("secret reference is empty")
	}

	r.mu.RLock()
	cached, ok := r.cache[ref]
	r.mu.RUnlock()
	if ok && r.now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret %s: %w", maskRef(ref), err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskRef(ref))
	}

	value := extractKey(*out.SecretString)

	r.mu.Lock()
	r.cache[ref] = cachedSecret{value: value, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()

	r.logger.Printf("Resolved secret %s", maskRef(ref))
	return value, nil
}

// extractKey pulls the API key out of a JSON secret payload. Secrets
// Manager console users often store {"api_key": "..."}; plain-string
// secrets pass through unchanged.
func extractKey(raw string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	for _, key := range []string{"api_key", "value"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return raw
}

// maskRef keeps enough of a reference to identify it in logs without
// leaking the full ARN.
func maskRef(ref string) string {
	if len(ref) <= 12 {
		return "***"
	}
	return ref[:8] + "..." + ref[len(ref)-4:]
}

// EnvResolver resolves references as environment variable names.
type EnvResolver struct{}

// Resolve returns the value of the named environment variable.
func (EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	value := os.Getenv(ref)
	if value == "" {
		return "", fmt.Errorf("environment variable %s is not set", ref)
	}
	return value, nil
}

// StaticResolver resolves from a fixed map. Tests and single-tenant
// deployments with inline keys.
type StaticResolver map[string]string

// Resolve returns the mapped value for ref.
func (s StaticResolver) Resolve(_ context.Context, ref string) (string, error) {
	value, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("no secret configured for %s", maskRef(ref))
	}
	return value, nil
}

// ForEnvironment picks a resolver for the deployment environment: ARNs
// resolve through AWS when a region is configured, otherwise references
// are treated as environment variable names.
func ForEnvironment(ctx context.Context, awsRegion string) (Resolver, error) {
	if awsRegion != "" {
		return NewAWSResolver(ctx, awsRegion)
	}
	return EnvResolver{}, nil
}

// IsARN reports whether a reference looks like a Secrets Manager ARN.
func IsARN(ref string) bool {
	return strings.HasPrefix(ref, "arn:aws:secretsmanager:")
}
