package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Hatles/rx-home-sub002/internal/auth/permissions"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// Registry caches entities and devices from a Repository.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Writes go to the repository first and reach the cache only on success.
type Registry struct {
	repo   Repository
	logger Logger

	mu       sync.RWMutex
	entities map[string]Entity
	devices  map[string]Device
}

// NewRegistry creates an empty registry. Call RefreshCache on startup.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		logger:   noopLogger{},
		entities: make(map[string]Entity),
		devices:  make(map[string]Device),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads everything from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	entities, err := r.repo.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	dm := make(map[string]Device, len(devices))
	for _, d := range devices {
		dm[d.ID] = d
	}
	em := make(map[string]Entity, len(entities))
	for _, e := range entities {
		em[e.EntityID] = e
	}

	r.mu.Lock()
	r.devices = dm
	r.entities = em
	r.mu.Unlock()

	r.logger.Info("registry cache refreshed", "devices", len(dm), "entities", len(em))
	return nil
}

// Entity implements permissions.EntityRegistry.
func (r *Registry) Entity(entityID string) (permissions.EntityEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return permissions.EntityEntry{}, false
	}
	return e.entry(), true
}

// Device implements permissions.DeviceRegistry.
func (r *Registry) Device(deviceID string) (permissions.DeviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return permissions.DeviceEntry{}, false
	}
	return d.entry(), true
}

// Lookup returns the registry as permission lookups.
func (r *Registry) Lookup() *permissions.Lookup {
	return &permissions.Lookup{Entities: r, Devices: r}
}

// GetEntity returns a cached entity.
func (r *Registry) GetEntity(entityID string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return e, nil
}

// EntityIDs returns the ids of every entity in domain, sorted.
func (r *Registry) EntityIDs(domain string) []string {
	r.mu.RLock()
	var out []string
	for id, e := range r.entities {
		if e.Domain == domain {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// SaveDevice stores a device and caches it.
func (r *Registry) SaveDevice(ctx context.Context, d Device) error {
	if err := r.repo.SaveDevice(ctx, &d); err != nil {
		return err
	}
	r.mu.Lock()
	r.devices[d.ID] = d
	r.mu.Unlock()
	return nil
}

// RemoveDevice deletes a device and detaches its entities.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	if err := r.repo.DeleteDevice(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.devices, id)
	for eid, e := range r.entities {
		if e.DeviceID == id {
			e.DeviceID = ""
			r.entities[eid] = e
		}
	}
	r.mu.Unlock()
	return nil
}

// SaveEntity stores an entity and caches it. A device id must be known.
func (r *Registry) SaveEntity(ctx context.Context, e Entity) error {
	if e.DeviceID != "" {
		if _, ok := r.Device(e.DeviceID); !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, e.DeviceID)
		}
	}
	if err := r.repo.SaveEntity(ctx, &e); err != nil {
		return err
	}
	r.mu.Lock()
	r.entities[e.EntityID] = e
	r.mu.Unlock()
	return nil
}

// RemoveEntity deletes an entity.
func (r *Registry) RemoveEntity(ctx context.Context, entityID string) error {
	if err := r.repo.DeleteEntity(ctx, entityID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.entities, entityID)
	r.mu.Unlock()
	return nil
}
