// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"modelrelay/platform/gateway/llm"
	"modelrelay/platform/gateway/llm/anthropic"
	"modelrelay/platform/gateway/llm/bedrock"
	"modelrelay/platform/gateway/llm/gemini"
	"modelrelay/platform/gateway/llm/openai"
	"modelrelay/platform/gateway/secrets"
)

// secretResolveTimeout bounds the lazy credential fetch inside a factory.
const secretResolveTimeout = 10 * time.Second

// RegisterBuiltinFactories binds the four built-in provider families into
// the given factory manager (nil means the process default). Secret ARNs
// in model configs resolve through the resolver at instantiation time, so
// registration never touches the network.
func RegisterBuiltinFactories(fm *llm.FactoryManager, resolver secrets.Resolver) error {
	register := llm.RegisterFactory
	if fm != nil {
		register = fm.Register
	}

	factories := map[string]llm.ProviderFactory{
		llm.FamilyAnthropic: anthropicFactory(resolver),
		llm.FamilyOpenAI:    openaiFactory(resolver),
		llm.FamilyGemini:    geminiFactory(resolver),
		llm.FamilyBedrock:   bedrockFactory(),
	}

	for family, factory := range factories {
		if err := register(family, factory); err != nil {
			return fmt.Errorf("failed to register %s factory: %w", family, err)
		}
	}
	return nil
}

// resolveAPIKey returns the inline key, or resolves the secret reference
// when only an ARN is configured.
func resolveAPIKey(resolver secrets.Resolver, cfg llm.ModelConfig) (string, error) {
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if cfg.APIKeySecretARN == "" {
		return "", fmt.Errorf("model %q has no API key or secret reference", cfg.Name)
	}
	if resolver == nil {
		return "", fmt.Errorf("model %q references a secret but no resolver is configured", cfg.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretResolveTimeout)
	defer cancel()
	return resolver.Resolve(ctx, cfg.APIKeySecretARN)
}

func anthropicFactory(resolver secrets.Resolver) llm.ProviderFactory {
	return func(cfg llm.ModelConfig) (llm.Provider, error) {
		key, err := resolveAPIKey(resolver, cfg)
		if err != nil {
			return nil, err
		}
		return anthropic.New(anthropic.Config{
			Name:        cfg.Name,
			APIKey:      key,
			BaseURL:     cfg.Endpoint,
			Model:       cfg.Model,
			Description: cfg.Description,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	}
}

func openaiFactory(resolver secrets.Resolver) llm.ProviderFactory {
	return func(cfg llm.ModelConfig) (llm.Provider, error) {
		key, err := resolveAPIKey(resolver, cfg)
		if err != nil {
			return nil, err
		}
		return openai.New(openai.Config{
			Name:        cfg.Name,
			APIKey:      key,
			BaseURL:     cfg.Endpoint,
			Model:       cfg.Model,
			Description: cfg.Description,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	}
}

func geminiFactory(resolver secrets.Resolver) llm.ProviderFactory {
	return func(cfg llm.ModelConfig) (llm.Provider, error) {
		key, err := resolveAPIKey(resolver, cfg)
		if err != nil {
			return nil, err
		}
		return gemini.New(gemini.Config{
			Name:        cfg.Name,
			APIKey:      key,
			BaseURL:     cfg.Endpoint,
			Model:       cfg.Model,
			Description: cfg.Description,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	}
}

func bedrockFactory() llm.ProviderFactory {
	return func(cfg llm.ModelConfig) (llm.Provider, error) {
		bcfg := bedrock.Config{
			Name:        cfg.Name,
			Region:      cfg.Region,
			Model:       cfg.Model,
			Description: cfg.Description,
		}
		if v, ok := cfg.Settings["access_key_id"].(string); ok {
			bcfg.AccessKeyID = v
		}
		if v, ok := cfg.Settings["secret_access_key"].(string); ok {
			bcfg.SecretAccessKey = v
		}

		ctx, cancel := context.WithTimeout(context.Background(), secretResolveTimeout)
		defer cancel()
		return bedrock.New(ctx, bcfg)
	}
}

// BuiltinModelConfigs returns the default catalog. A model appears only
// when its credential is configured, so a gateway with one API key
// advertises one model instead of three broken ones.
func BuiltinModelConfigs(cfg Config) []*llm.ModelConfig {
	var configs []*llm.ModelConfig

	if cfg.AnthropicAPIKey != "" {
		configs = append(configs, &llm.ModelConfig{
			Name:        "claude-sonnet",
			Family:      llm.FamilyAnthropic,
			Description: "Anthropic Claude Sonnet",
			APIKey:      cfg.AnthropicAPIKey,
			Enabled:     true,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		configs = append(configs, &llm.ModelConfig{
			Name:        "gpt-4o",
			Family:      llm.FamilyOpenAI,
			Description: "OpenAI GPT-4o",
			APIKey:      cfg.OpenAIAPIKey,
			Enabled:     true,
		})
	}
	if cfg.GeminiAPIKey != "" {
		configs = append(configs, &llm.ModelConfig{
			Name:        "gemini-pro",
			Family:      llm.FamilyGemini,
			Description: "Google Gemini Pro",
			APIKey:      cfg.GeminiAPIKey,
			Enabled:     true,
		})
	}
	if cfg.BedrockRegion != "" {
		configs = append(configs, &llm.ModelConfig{
			Name:        "bedrock-nova",
			Family:      llm.FamilyBedrock,
			Description: "Amazon Nova via Bedrock",
			Region:      cfg.BedrockRegion,
			Model:       cfg.BedrockModel,
			Enabled:     true,
		})
	}

	return configs
}

// modelsManifest is the models.yaml document shape.
type modelsManifest struct {
	Models []manifestEntry `yaml:"models"`
}

type manifestEntry struct {
	Name            string `yaml:"name"`
	Family          string `yaml:"family"`
	Model           string `yaml:"model"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	APIKeyEnv       string `yaml:"api_key_env"`
	APIKeySecretARN string `yaml:"api_key_secret_arn"`
	Description     string `yaml:"description"`
	Enabled         *bool  `yaml:"enabled"`
}

// LoadModelsManifest parses a models.yaml file into model configs.
// Entries are enabled unless the manifest says otherwise; api_key_env
// names are dereferenced here so the registry only ever sees materialized
// keys or secret ARNs.
func LoadModelsManifest(path string) ([]*llm.ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models manifest: %w", err)
	}

	var manifest modelsManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse models manifest: %w", err)
	}

	configs := make([]*llm.ModelConfig, 0, len(manifest.Models))
	for _, entry := range manifest.Models {
		cfg := &llm.ModelConfig{
			Name:            entry.Name,
			Family:          entry.Family,
			Model:           entry.Model,
			Endpoint:        entry.Endpoint,
			Region:          entry.Region,
			APIKeySecretARN: entry.APIKeySecretARN,
			Description:     entry.Description,
			Enabled:         entry.Enabled == nil || *entry.Enabled,
		}
		if entry.APIKeyEnv != "" {
			cfg.APIKey = os.Getenv(entry.APIKeyEnv)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// RegisterModels registers every enabled config. Registration failures
// are fatal: a manifest that names a duplicate or invalid model is a
// deployment error, not something to paper over.
func RegisterModels(ctx context.Context, registry *llm.Registry, configs []*llm.ModelConfig) error {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := registry.Register(ctx, cfg); err != nil {
			return fmt.Errorf("failed to register model %q: %w", cfg.Name, err)
		}
	}
	return nil
}
