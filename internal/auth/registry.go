package auth

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/notify"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// PluginDeps are the collaborators handed to plugin constructors.
type PluginDeps struct {
	Store    *Store
	Backend  storage.Backend
	Notifier notify.Notifier
	Logger   Logger
}

// ProviderFactory builds a provider from its configuration entry.
type ProviderFactory func(deps PluginDeps, cfg config.PluginConfig) (Provider, error)

// MFAFactory builds an MFA module from its configuration entry.
type MFAFactory func(deps PluginDeps, cfg config.PluginConfig) (MFAModule, error)

// ProviderRegistry maps provider type names to constructors.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]ProviderFactory)}
}

// Register adds a constructor. Registering a type twice panics.
func (r *ProviderRegistry) Register(providerType string, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[providerType]; dup {
		panic("auth: provider type registered twice: " + providerType)
	}
	r.factories[providerType] = f
}

// Types lists the registered provider types.
func (r *ProviderRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Load builds every configured provider in order. All failures are
// reported together.
func (r *ProviderRegistry) Load(deps PluginDeps, cfgs []config.PluginConfig) ([]Provider, error) {
	var (
		out  []Provider
		errs []error
	)
	for _, cfg := range cfgs {
		r.mu.RLock()
		f, ok := r.factories[cfg.Type]
		r.mu.RUnlock()
		if !ok {
			errs = append(errs, fmt.Errorf("unable to load auth provider %s: %w", cfg.Type, ErrNotRegistered))
			continue
		}
		p, err := f(deps, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("unable to load auth provider %s: %w", cfg.Type, err))
			continue
		}
		out = append(out, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// MFARegistry maps MFA module type names to constructors.
type MFARegistry struct {
	mu        sync.RWMutex
	factories map[string]MFAFactory
}

// NewMFARegistry returns an empty registry.
func NewMFARegistry() *MFARegistry {
	return &MFARegistry{factories: make(map[string]MFAFactory)}
}

// Register adds a constructor. Registering a type twice panics.
func (r *MFARegistry) Register(moduleType string, f MFAFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[moduleType]; dup {
		panic("auth: mfa module type registered twice: " + moduleType)
	}
	r.factories[moduleType] = f
}

// Load builds every configured module in order.
func (r *MFARegistry) Load(deps PluginDeps, cfgs []config.PluginConfig) ([]MFAModule, error) {
	var (
		out  []MFAModule
		errs []error
	)
	for _, cfg := range cfgs {
		r.mu.RLock()
		f, ok := r.factories[cfg.Type]
		r.mu.RUnlock()
		if !ok {
			errs = append(errs, fmt.Errorf("unable to load mfa module %s: %w", cfg.Type, ErrNotRegistered))
			continue
		}
		mod, err := f(deps, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("unable to load mfa module %s: %w", cfg.Type, err))
			continue
		}
		out = append(out, mod)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// DecodeOptions strictly decodes plugin options into v. Unknown keys are
// rejected so typos fail at startup.
func DecodeOptions(opts map[string]any, v any) error {
	if len(opts) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
