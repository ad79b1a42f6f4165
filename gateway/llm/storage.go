// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Storage persists model configurations across restarts.
// Implementations must be safe for concurrent use.
type Storage interface {
	// SaveModel persists a model configuration.
	SaveModel(ctx context.Context, cfg *ModelConfig) error

	// GetModel retrieves a model configuration by name.
	GetModel(ctx context.Context, name string) (*ModelConfig, error)

	// LoadModels returns all stored model configurations.
	LoadModels(ctx context.Context) ([]*ModelConfig, error)

	// DeleteModel removes a model configuration.
	DeleteModel(ctx context.Context, name string) error
}

// PostgresStorage implements Storage using PostgreSQL.
// The caller owns the *sql.DB and its lifecycle.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL-backed storage.
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// EnsureSchema creates the gateway tables if they don't exist.
// Called once at startup; safe to call repeatedly.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS llm_models (
		id SERIAL PRIMARY KEY,
		name VARCHAR(100) UNIQUE NOT NULL,
		family VARCHAR(50) NOT NULL,
		description TEXT,
		api_key TEXT,
		api_key_secret_arn TEXT,
		endpoint TEXT,
		model VARCHAR(200),
		region VARCHAR(50),
		enabled BOOLEAN NOT NULL DEFAULT true,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		settings JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_llm_models_family ON llm_models(family);

	CREATE TABLE IF NOT EXISTS llm_usage_events (
		id SERIAL PRIMARY KEY,
		request_id VARCHAR(64) NOT NULL,
		model VARCHAR(100) NOT NULL,
		family VARCHAR(50) NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		cached BOOLEAN NOT NULL DEFAULT false,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_model ON llm_usage_events(model);
	CREATE INDEX IF NOT EXISTS idx_usage_events_created ON llm_usage_events(created_at DESC);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveModel persists a model configuration to the database.
func (s *PostgresStorage) SaveModel(ctx context.Context, cfg *ModelConfig) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	settingsJSON, err := json.Marshal(cfg.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO llm_models (
			name, family, description, api_key, api_key_secret_arn,
			endpoint, model, region, enabled, timeout_seconds, settings
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (name) DO UPDATE SET
			family = EXCLUDED.family,
			description = EXCLUDED.description,
			api_key = EXCLUDED.api_key,
			api_key_secret_arn = EXCLUDED.api_key_secret_arn,
			endpoint = EXCLUDED.endpoint,
			model = EXCLUDED.model,
			region = EXCLUDED.region,
			enabled = EXCLUDED.enabled,
			timeout_seconds = EXCLUDED.timeout_seconds,
			settings = EXCLUDED.settings,
			updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query,
		cfg.Name,
		cfg.Family,
		cfg.Description,
		cfg.APIKey,
		cfg.APIKeySecretARN,
		cfg.Endpoint,
		cfg.Model,
		cfg.Region,
		cfg.Enabled,
		cfg.TimeoutSeconds,
		settingsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	return nil
}

const modelColumns = `name, family, description, api_key, api_key_secret_arn,
		   endpoint, model, region, enabled, timeout_seconds, settings`

// GetModel retrieves a model configuration by name.
func (s *PostgresStorage) GetModel(ctx context.Context, name string) (*ModelConfig, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM llm_models
		WHERE name = $1
	`

	cfg, err := scanModel(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("model %q not found", name)
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return cfg, nil
}

// LoadModels returns all stored model configurations, ordered by name.
func (s *PostgresStorage) LoadModels(ctx context.Context) ([]*ModelConfig, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM llm_models
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	defer rows.Close()

	var configs []*ModelConfig
	for rows.Next() {
		cfg, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}

	return configs, nil
}

// DeleteModel removes a model configuration from the database.
func (s *PostgresStorage) DeleteModel(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM llm_models WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("model %q not found", name)
	}

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanModel(row scanner) (*ModelConfig, error) {
	var cfg ModelConfig
	var description, apiKey, apiKeySecretARN, endpoint, model, region sql.NullString
	var settingsJSON []byte

	err := row.Scan(
		&cfg.Name,
		&cfg.Family,
		&description,
		&apiKey,
		&apiKeySecretARN,
		&endpoint,
		&model,
		&region,
		&cfg.Enabled,
		&cfg.TimeoutSeconds,
		&settingsJSON,
	)
	if err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.APIKey = apiKey.String
	cfg.APIKeySecretARN = apiKeySecretARN.String
	cfg.Endpoint = endpoint.String
	cfg.Model = model.String
	cfg.Region = region.String

	if len(settingsJSON) > 0 {
		cfg.Settings = make(map[string]any)
		if err := json.Unmarshal(settingsJSON, &cfg.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &cfg, nil
}

// Ensure PostgresStorage implements Storage interface.
var _ Storage = (*PostgresStorage)(nil)
