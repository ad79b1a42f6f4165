// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderFactory creates a Provider instance from configuration.
// Factories should validate the config and return an error if invalid.
type ProviderFactory func(cfg ModelConfig) (Provider, error)

// FactoryManager maps provider families to factories. The zero value
// is not usable; create instances with NewFactoryManager. A process
// global default manager backs the package-level functions; isolated
// managers support tests and embedded use.
type FactoryManager struct {
	factories map[string]ProviderFactory
	mu        sync.RWMutex
}

// NewFactoryManager creates a factory manager with an empty registry.
func NewFactoryManager() *FactoryManager {
	return &FactoryManager{
		factories: make(map[string]ProviderFactory),
	}
}

// defaultManager holds the built-in factories registered at startup.
var defaultManager = NewFactoryManager()

// RegisterFactory registers a factory for a family in the default
// manager. Typically called once during service bootstrap.
func RegisterFactory(family string, factory ProviderFactory) error {
	return defaultManager.Register(family, factory)
}

// GetFactory returns the default-manager factory for a family, or nil.
func GetFactory(family string) ProviderFactory {
	return defaultManager.Get(family)
}

// HasFactory returns true if the default manager knows the family.
func HasFactory(family string) bool {
	return defaultManager.Has(family)
}

// ListFactories returns the families registered in the default manager.
func ListFactories() []string {
	return defaultManager.List()
}

// Register adds a factory for a family. Registration is append-only:
// registering an already-known family returns a FactoryError so a
// second caller can never silently shadow the first.
func (m *FactoryManager) Register(family string, factory ProviderFactory) error {
	if family == "" {
		return &FactoryError{
			Code:    ErrFactoryMissingFamily,
			Message: "provider family is required",
		}
	}
	if factory == nil {
		return &FactoryError{
			Family:  family,
			Code:    ErrFactoryInvalidConfig,
			Message: "factory must not be nil",
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[family]; exists {
		return &FactoryError{
			Family:  family,
			Code:    ErrFactoryDuplicate,
			Message: fmt.Sprintf("factory already registered for family %q", family),
		}
	}
	m.factories[family] = factory
	return nil
}

// Unregister removes a factory. Returns true if one was removed.
func (m *FactoryManager) Unregister(family string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.factories[family]
	delete(m.factories, family)
	return existed
}

// Get returns the factory for a family, or nil if not registered.
func (m *FactoryManager) Get(family string) ProviderFactory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.factories[family]
}

// Has returns true if a factory is registered for the family.
func (m *FactoryManager) Has(family string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.factories[family]
	return ok
}

// List returns all registered families, sorted.
func (m *FactoryManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	families := make([]string, 0, len(m.factories))
	for f := range m.factories {
		families = append(families, f)
	}
	sort.Strings(families)
	return families
}

// Count returns the number of registered factories.
func (m *FactoryManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.factories)
}

// Clear removes all registered factories.
func (m *FactoryManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories = make(map[string]ProviderFactory)
}

// CopyFromDefault copies the default manager's factories into this
// manager, skipping families this manager already has.
func (m *FactoryManager) CopyFromDefault() {
	defaultManager.mu.RLock()
	defer defaultManager.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for family, factory := range defaultManager.factories {
		if _, exists := m.factories[family]; !exists {
			m.factories[family] = factory
		}
	}
}

// Create builds a provider for the config's family using a factory
// from this manager.
func (m *FactoryManager) Create(cfg ModelConfig) (Provider, error) {
	if cfg.Family == "" {
		return nil, &FactoryError{
			Code:    ErrFactoryMissingFamily,
			Message: "provider family is required",
		}
	}

	factory := m.Get(cfg.Family)
	if factory == nil {
		return nil, &FactoryError{
			Family:  cfg.Family,
			Code:    ErrFactoryNotRegistered,
			Message: fmt.Sprintf("no factory registered for family %q", cfg.Family),
		}
	}

	provider, err := factory(cfg)
	if err != nil {
		return nil, &FactoryError{
			Family:  cfg.Family,
			Code:    ErrFactoryCreationFailed,
			Message: fmt.Sprintf("failed to create provider: %v", err),
			Cause:   err,
		}
	}

	return provider, nil
}

// FactoryError represents an error during factory operations.
type FactoryError struct {
	Family  string
	Code    string
	Message string
	Cause   error
}

// Factory error codes.
const (
	// ErrFactoryNotRegistered indicates no factory is registered for the family.
	ErrFactoryNotRegistered = "factory_not_registered"

	// ErrFactoryMissingFamily indicates the provider family was not specified.
	ErrFactoryMissingFamily = "factory_missing_family"

	// ErrFactoryDuplicate indicates a factory is already registered for the family.
	ErrFactoryDuplicate = "factory_duplicate"

	// ErrFactoryCreationFailed indicates the factory returned an error.
	ErrFactoryCreationFailed = "factory_creation_failed"

	// ErrFactoryInvalidConfig indicates the configuration is invalid.
	ErrFactoryInvalidConfig = "factory_invalid_config"
)

// Error implements the error interface.
func (e *FactoryError) Error() string {
	if e.Family != "" {
		return fmt.Sprintf("factory error for %q: %s", e.Family, e.Message)
	}
	return fmt.Sprintf("factory error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *FactoryError) Unwrap() error {
	return e.Cause
}

// ValidateModelConfig validates a ModelConfig before registration.
// Family-specific checks mirror what each adapter requires so that
// misconfiguration fails at register time, not first use.
func ValidateModelConfig(cfg ModelConfig) error {
	if cfg.Name == "" {
		return &FactoryError{
			Family:  cfg.Family,
			Code:    ErrFactoryInvalidConfig,
			Message: "model name is required",
		}
	}
	if cfg.Family == "" {
		return &FactoryError{
			Code:    ErrFactoryInvalidConfig,
			Message: "provider family is required",
		}
	}

	switch cfg.Family {
	case FamilyAnthropic, FamilyOpenAI, FamilyGemini:
		if cfg.APIKey == "" && cfg.APIKeySecretARN == "" {
			return &FactoryError{
				Family:  cfg.Family,
				Code:    ErrFactoryInvalidConfig,
				Message: "API key or secret ARN is required",
			}
		}

	case FamilyBedrock:
		if cfg.Region == "" {
			return &FactoryError{
				Family:  cfg.Family,
				Code:    ErrFactoryInvalidConfig,
				Message: "AWS region is required for Bedrock",
			}
		}
	}

	if cfg.TimeoutSeconds < 0 {
		return &FactoryError{
			Family:  cfg.Family,
			Code:    ErrFactoryInvalidConfig,
			Message: "timeout must be non-negative",
		}
	}

	return nil
}
