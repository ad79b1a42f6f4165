// Copyright 2025 ModelRelay
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Registry manages model registrations and their provider instances.
// Registrations are append-only for the life of the process: a model
// id, once bound, is never rebound. Providers are instantiated lazily
// on first Get so that registering a misconfigured model does not cost
// anything until someone asks for it.
//
// All methods are safe for concurrent use.
type Registry struct {
	entries   map[string]*registryEntry
	factories *FactoryManager
	storage   Storage
	logger    *log.Logger
	mu        sync.RWMutex
}

// registryEntry binds a model config to the factory resolved at
// registration time. instance is nil until the first successful Get.
type registryEntry struct {
	config   *ModelConfig
	factory  ProviderFactory
	instance Provider
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStorage sets the persistence backend for model configs.
// Without storage the registry is memory-only.
func WithStorage(storage Storage) RegistryOption {
	return func(r *Registry) {
		r.storage = storage
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFactoryManager sets an isolated factory manager instead of the
// process default. Used by tests and embedded registries.
func WithFactoryManager(fm *FactoryManager) RegistryOption {
	return func(r *Registry) {
		r.factories = fm
	}
}

// NewRegistry creates a registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:   make(map[string]*registryEntry),
		factories: defaultManager,
		logger:    log.New(os.Stdout, "[MODEL_REGISTRY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a model id to its config. The factory for the
// config's family is resolved now so that an unknown family fails at
// registration, but the provider itself is not built until first use.
//
// Registering an id that already exists returns a RegistryError with
// code ErrRegistryDuplicate; the existing registration is untouched.
func (r *Registry) Register(ctx context.Context, cfg *ModelConfig) error {
	if cfg == nil {
		return &RegistryError{
			Code:    ErrRegistryInvalidConfig,
			Message: "model config must not be nil",
		}
	}
	if err := ValidateModelConfig(*cfg); err != nil {
		return &RegistryError{
			Model:   cfg.Name,
			Code:    ErrRegistryInvalidConfig,
			Message: "invalid model config",
			Cause:   err,
		}
	}

	factory := r.factories.Get(cfg.Family)
	if factory == nil {
		return &RegistryError{
			Model:   cfg.Name,
			Code:    ErrRegistryInvalidConfig,
			Message: fmt.Sprintf("no factory registered for family %q", cfg.Family),
		}
	}

	cfgCopy := cfg.Copy()

	r.mu.Lock()
	if _, exists := r.entries[cfg.Name]; exists {
		r.mu.Unlock()
		return &RegistryError{
			Model:   cfg.Name,
			Code:    ErrRegistryDuplicate,
			Message: fmt.Sprintf("model %q is already registered", cfg.Name),
		}
	}
	r.entries[cfg.Name] = &registryEntry{config: cfgCopy, factory: factory}
	r.mu.Unlock()

	// Persist after the in-memory insert; roll back on storage failure
	// so registry and storage never disagree.
	if r.storage != nil {
		if err := r.storage.SaveModel(ctx, cfgCopy); err != nil {
			r.mu.Lock()
			delete(r.entries, cfg.Name)
			r.mu.Unlock()
			return &RegistryError{
				Model:   cfg.Name,
				Code:    ErrRegistryStorageError,
				Message: "failed to persist model config",
				Cause:   err,
			}
		}
	}

	r.logger.Printf("Registered model %q (family=%s)", cfg.Name, cfg.Family)
	return nil
}

// Get returns the provider for a model id, instantiating it on first
// use. A failed instantiation is not cached; the next Get retries.
func (r *Registry) Get(ctx context.Context, modelID string) (Provider, error) {
	r.mu.RLock()
	entry, ok := r.entries[modelID]
	if ok && entry.instance != nil {
		instance := entry.instance
		r.mu.RUnlock()
		return instance, nil
	}
	r.mu.RUnlock()

	if !ok {
		return nil, &RegistryError{
			Model:   modelID,
			Code:    ErrRegistryUnknownModel,
			Message: fmt.Sprintf("model %q is not registered", modelID),
		}
	}

	return r.lazyInstantiate(modelID)
}

// lazyInstantiate builds the provider under the write lock with a
// double-check, so concurrent first Gets build exactly one instance.
func (r *Registry) lazyInstantiate(modelID string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[modelID]
	if !ok {
		return nil, &RegistryError{
			Model:   modelID,
			Code:    ErrRegistryUnknownModel,
			Message: fmt.Sprintf("model %q is not registered", modelID),
		}
	}
	if entry.instance != nil {
		return entry.instance, nil
	}

	provider, err := entry.factory(*entry.config.Copy())
	if err != nil {
		return nil, &RegistryError{
			Model:   modelID,
			Code:    ErrRegistryInitFailed,
			Message: fmt.Sprintf("failed to initialize provider for model %q", modelID),
			Cause:   err,
		}
	}

	entry.instance = provider
	r.logger.Printf("Instantiated provider for model %q (family=%s)", modelID, entry.config.Family)
	return provider, nil
}

// ListAvailable returns info for every model that can currently be
// instantiated. Models whose instantiation fails are skipped, never
// fatal, so one bad credential does not hide the rest of the catalog.
func (r *Registry) ListAvailable(ctx context.Context) []ModelInfo {
	names := r.Models()
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		provider, err := r.Get(ctx, name)
		if err != nil {
			r.logger.Printf("Skipping model %q in listing: %v", name, err)
			continue
		}
		infos = append(infos, describeProvider(provider))
	}
	return infos
}

func describeProvider(p Provider) ModelInfo {
	capabilities := []string{"chat"}
	if p.SupportsNativeTools() {
		capabilities = append(capabilities, "tools")
	}
	return ModelInfo{
		Name:         p.Name(),
		Family:       p.Family(),
		Description:  p.Description(),
		Capabilities: capabilities,
		NativeTools:  p.SupportsNativeTools(),
	}
}

// Models returns all registered model ids, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if the model id is registered.
func (r *Registry) Has(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[modelID]
	return ok
}

// Count returns the number of registered models.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountInstantiated returns how many providers have been built so far.
func (r *Registry) CountInstantiated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.entries {
		if entry.instance != nil {
			n++
		}
	}
	return n
}

// GetConfig returns a copy of the registered config for a model id.
func (r *Registry) GetConfig(modelID string) (*ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[modelID]
	if !ok {
		return nil, &RegistryError{
			Model:   modelID,
			Code:    ErrRegistryUnknownModel,
			Message: fmt.Sprintf("model %q is not registered", modelID),
		}
	}
	return entry.config.Copy(), nil
}

// LoadFromStorage registers every stored model config that is not
// already present. Existing registrations are never replaced, and
// nothing is written back to storage. Returns the number of models
// added.
func (r *Registry) LoadFromStorage(ctx context.Context) (int, error) {
	if r.storage == nil {
		return 0, &RegistryError{
			Code:    ErrRegistryStorageError,
			Message: "no storage configured",
		}
	}

	configs, err := r.storage.LoadModels(ctx)
	if err != nil {
		return 0, &RegistryError{
			Code:    ErrRegistryStorageError,
			Message: "failed to load model configs",
			Cause:   err,
		}
	}

	loaded := 0
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		if err := ValidateModelConfig(*cfg); err != nil {
			r.logger.Printf("Skipping stored model %q: %v", cfg.Name, err)
			continue
		}
		factory := r.factories.Get(cfg.Family)
		if factory == nil {
			r.logger.Printf("Skipping stored model %q: no factory for family %q", cfg.Name, cfg.Family)
			continue
		}

		r.mu.Lock()
		if _, exists := r.entries[cfg.Name]; exists {
			r.mu.Unlock()
			continue
		}
		r.entries[cfg.Name] = &registryEntry{config: cfg.Copy(), factory: factory}
		r.mu.Unlock()
		loaded++
	}

	if loaded > 0 {
		r.logger.Printf("Loaded %d model(s) from storage", loaded)
	}
	return loaded, nil
}

// RegistryError represents an error from registry operations.
type RegistryError struct {
	Model   string
	Code    string
	Message string
	Cause   error
}

// Registry error codes.
const (
	// ErrRegistryUnknownModel indicates the model id is not registered.
	ErrRegistryUnknownModel = "unknown_model"

	// ErrRegistryDuplicate indicates a model with that id already exists.
	ErrRegistryDuplicate = "duplicate_model"

	// ErrRegistryInitFailed indicates provider instantiation failed.
	ErrRegistryInitFailed = "init_failed"

	// ErrRegistryInvalidConfig indicates invalid model configuration.
	ErrRegistryInvalidConfig = "invalid_config"

	// ErrRegistryStorageError indicates a storage operation failed.
	ErrRegistryStorageError = "storage_error"
)

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("registry error for %q: %s", e.Model, e.Message)
	}
	return fmt.Sprintf("registry error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// IsUnknownModel reports whether err is a registry error for an
// unregistered model id.
func IsUnknownModel(err error) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Code == ErrRegistryUnknownModel
}

// IsDuplicateModel reports whether err is a duplicate-registration
// registry error.
func IsDuplicateModel(err error) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Code == ErrRegistryDuplicate
}

// IsInitFailed reports whether err is a provider-instantiation
// registry error.
func IsInitFailed(err error) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Code == ErrRegistryInitFailed
}
