package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPolicy is returned when a policy does not follow the grammar.
var ErrInvalidPolicy = errors.New("invalid policy")

var permissionKinds = map[string]struct{}{
	PolicyRead:    {},
	PolicyControl: {},
	PolicyEdit:    {},
}

// ValidatePolicy checks p against the policy grammar. Unknown categories,
// unknown subcategories, malformed entity ids and non-boolean leaves are
// rejected; every problem is reported.
func ValidatePolicy(p Policy) error {
	var errs []string

	categories := make([]string, 0, len(p))
	for c := range p {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		switch c {
		case CatEntities:
			errs = append(errs, validateEntities(p[c])...)
		default:
			errs = append(errs, fmt.Sprintf("unknown category %q", c))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(errs, "; "))
	}
	return nil
}

func validateEntities(v any) []string {
	if isBoolOrNil(v) {
		return nil
	}
	cat, ok := asMap(v)
	if !ok {
		return []string{"entities must be a boolean, null or a mapping"}
	}

	var errs []string
	for _, sub := range sortedKeys(cat) {
		val := cat[sub]
		path := CatEntities + "." + sub
		switch sub {
		case SubcatAll:
			errs = append(errs, validateLeaf(path, val)...)
		case SubcatEntityIDs:
			errs = append(errs, validateKeyed(path, val, func(id string) bool {
				domain, object, found := strings.Cut(id, ".")
				return found && domain != "" && object != ""
			})...)
		case SubcatDeviceIDs, SubcatAreaIDs, SubcatDomains:
			errs = append(errs, validateKeyed(path, val, func(id string) bool { return id != "" })...)
		default:
			errs = append(errs, fmt.Sprintf("unknown subcategory %q", path))
		}
	}
	return errs
}

// validateKeyed checks a subcategory whose map keys are ids.
func validateKeyed(path string, v any, validID func(string) bool) []string {
	if isBoolOrNil(v) {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		return []string{path + " must be a boolean, null or a mapping"}
	}
	var errs []string
	for _, id := range sortedKeys(m) {
		if !validID(id) {
			errs = append(errs, fmt.Sprintf("%s: invalid id %q", path, id))
			continue
		}
		errs = append(errs, validateLeaf(path+"."+id, m[id])...)
	}
	return errs
}

// validateLeaf checks a bool/null or a map of permission kinds to bool/null.
func validateLeaf(path string, v any) []string {
	if isBoolOrNil(v) {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		return []string{path + " must be a boolean, null or a mapping of permissions"}
	}
	var errs []string
	for _, kind := range sortedKeys(m) {
		if _, known := permissionKinds[kind]; !known {
			errs = append(errs, fmt.Sprintf("%s: unknown permission %q", path, kind))
			continue
		}
		if !isBoolOrNil(m[kind]) {
			errs = append(errs, fmt.Sprintf("%s.%s must be a boolean", path, kind))
		}
	}
	return errs
}

func isBoolOrNil(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(bool)
	return ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
