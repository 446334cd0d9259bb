package permissions

// Policy maps a category to true, false, nil or a nested map.
// Nested maps decoded from JSON arrive as map[string]any; both that and
// Policy are accepted anywhere a map is expected.
type Policy map[string]any

// EntityEntry is the registry view of one entity needed for permission checks.
type EntityEntry struct {
	EntityID string
	DeviceID string
	AreaID   string
}

// DeviceEntry is the registry view of one device.
type DeviceEntry struct {
	ID     string
	AreaID string
}

// EntityRegistry resolves entity ids.
type EntityRegistry interface {
	Entity(entityID string) (EntityEntry, bool)
}

// DeviceRegistry resolves device ids.
type DeviceRegistry interface {
	Device(deviceID string) (DeviceEntry, bool)
}

// Lookup bundles the registries consulted by device_ids and area_ids.
// Either field may be nil, in which case those subcategories never match.
type Lookup struct {
	Entities EntityRegistry
	Devices  DeviceRegistry
}

func (l *Lookup) entity(entityID string) (EntityEntry, bool) {
	if l == nil || l.Entities == nil {
		return EntityEntry{}, false
	}
	return l.Entities.Entity(entityID)
}

func (l *Lookup) device(deviceID string) (DeviceEntry, bool) {
	if l == nil || l.Devices == nil {
		return DeviceEntry{}, false
	}
	return l.Devices.Device(deviceID)
}

// asMap returns v as a plain map when it is one.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Policy:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// Clone returns a deep copy of p.
func (p Policy) Clone() Policy {
	if p == nil {
		return nil
	}
	return Policy(cloneMap(p))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := asMap(v); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
