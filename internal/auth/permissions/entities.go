package permissions

import "strings"

// CheckFunc reports whether key (read, control, edit) is granted on an entity.
type CheckFunc func(entityID, key string) bool

func allowAll(string, string) bool { return true }
func denyAll(string, string) bool  { return false }

// subcategoryLookup returns the leaf that applies to entityID inside one
// subcategory value, or nil when the subcategory says nothing about it.
type subcategoryLookup func(lookup *Lookup, value map[string]any, entityID string) any

var entitySubcategories = []struct {
	name   string
	lookup subcategoryLookup
}{
	{SubcatEntityIDs, lookupEntityID},
	{SubcatDeviceIDs, lookupDevice},
	{SubcatAreaIDs, lookupArea},
	{SubcatDomains, lookupDomain},
	{SubcatAll, nil},
}

// CompileEntities turns the entities category of a policy into a CheckFunc.
//
// Only a true leaf grants. A false or missing leaf falls through to the next
// subcategory; when none grants, the entity is denied.
func CompileEntities(policy any, lookup *Lookup) CheckFunc {
	switch v := policy.(type) {
	case nil:
		return denyAll
	case bool:
		if v {
			return allowAll
		}
		return denyAll
	}

	cat, ok := asMap(policy)
	if !ok {
		return denyAll
	}

	type test struct {
		lookup subcategoryLookup
		value  map[string]any
		all    any
	}
	var tests []test

	for _, sub := range entitySubcategories {
		raw, present := cat[sub.name]
		if !present || raw == nil {
			continue
		}
		if b, isBool := raw.(bool); isBool {
			if b {
				return allowAll
			}
			continue
		}
		m, isMap := asMap(raw)
		if !isMap {
			continue
		}
		if sub.lookup == nil {
			tests = append(tests, test{all: m})
			continue
		}
		tests = append(tests, test{lookup: sub.lookup, value: m})
	}

	if len(tests) == 0 {
		return denyAll
	}

	return func(entityID, key string) bool {
		for _, tc := range tests {
			leaf := tc.all
			if tc.lookup != nil {
				leaf = tc.lookup(lookup, tc.value, entityID)
			}
			if leafGrants(leaf, key) {
				return true
			}
		}
		return false
	}
}

// leafGrants reports whether a leaf grants key. A leaf is true, false, nil
// or a map of permission kind to bool.
func leafGrants(leaf any, key string) bool {
	if b, ok := leaf.(bool); ok {
		return b
	}
	m, ok := asMap(leaf)
	if !ok {
		return false
	}
	granted, _ := m[key].(bool)
	return granted
}

func lookupEntityID(_ *Lookup, value map[string]any, entityID string) any {
	return value[entityID]
}

func lookupDevice(lookup *Lookup, value map[string]any, entityID string) any {
	entry, ok := lookup.entity(entityID)
	if !ok || entry.DeviceID == "" {
		return nil
	}
	return value[entry.DeviceID]
}

func lookupArea(lookup *Lookup, value map[string]any, entityID string) any {
	entry, ok := lookup.entity(entityID)
	if !ok || entry.DeviceID == "" {
		return nil
	}
	device, ok := lookup.device(entry.DeviceID)
	if !ok || device.AreaID == "" {
		return nil
	}
	return value[device.AreaID]
}

func lookupDomain(_ *Lookup, value map[string]any, entityID string) any {
	domain, _, found := strings.Cut(entityID, ".")
	if !found {
		return nil
	}
	return value[domain]
}

// testAll reports whether the entities category grants key on every entity
// through the all subcategory (or a whole-category true).
func testAll(policy any, key string) bool {
	if b, ok := policy.(bool); ok {
		return b
	}
	cat, ok := asMap(policy)
	if !ok {
		return false
	}
	all := cat[SubcatAll]
	if b, ok := all.(bool); ok {
		return b
	}
	allMap, ok := asMap(all)
	if !ok {
		return false
	}
	granted, _ := allMap[key].(bool)
	return granted
}
