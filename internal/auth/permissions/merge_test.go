package permissions

import (
	"reflect"
	"testing"
)

func TestMergePolicies(t *testing.T) {
	tests := []struct {
		name     string
		policies []Policy
		want     Policy
	}{
		{
			name:     "true wins over map",
			policies: []Policy{{"entities": map[string]any{"all": map[string]any{"read": true}}}, {"entities": true}},
			want:     Policy{"entities": true},
		},
		{
			name:     "map wins over false",
			policies: []Policy{{"entities": false}, {"entities": map[string]any{"domains": map[string]any{"light": true}}}},
			want:     Policy{"entities": map[string]any{"domains": map[string]any{"light": true}}},
		},
		{
			name:     "nil contributes nothing",
			policies: []Policy{{"entities": nil}, {"entities": map[string]any{"all": true}}},
			want:     Policy{"entities": map[string]any{"all": true}},
		},
		{
			name:     "false alone stays false",
			policies: []Policy{{"entities": false}, {"entities": nil}},
			want:     Policy{"entities": false},
		},
		{
			name: "maps merge per key",
			policies: []Policy{
				{"entities": map[string]any{"entity_ids": map[string]any{"light.kitchen": map[string]any{"read": true}}}},
				{"entities": map[string]any{"entity_ids": map[string]any{"light.kitchen": map[string]any{"control": true}, "switch.fan": true}}},
			},
			want: Policy{"entities": map[string]any{"entity_ids": map[string]any{
				"light.kitchen": map[string]any{"read": true, "control": true},
				"switch.fan":    true,
			}}},
		},
		{
			name:     "category missing from one policy",
			policies: []Policy{{}, {"entities": map[string]any{"all": true}}},
			want:     Policy{"entities": map[string]any{"all": true}},
		},
		{
			name:     "no policies",
			policies: nil,
			want:     Policy{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergePolicies(tt.policies)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergePolicies() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMergePolicies_Commutative(t *testing.T) {
	a := Policy{"entities": map[string]any{
		"domains":    map[string]any{"light": map[string]any{"read": true}},
		"entity_ids": false,
	}}
	b := Policy{"entities": map[string]any{
		"domains":    map[string]any{"light": map[string]any{"control": true}, "switch": true},
		"entity_ids": map[string]any{"sensor.x": true},
		"all":        nil,
	}}
	c := Policy{"entities": false}

	orders := [][]Policy{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	want := MergePolicies(orders[0])
	for i, order := range orders[1:] {
		if got := MergePolicies(order); !reflect.DeepEqual(got, want) {
			t.Errorf("order %d: MergePolicies() = %#v, want %#v", i+1, got, want)
		}
	}
}

func TestMergePolicies_Idempotent(t *testing.T) {
	p := Policy{"entities": map[string]any{
		"area_ids": map[string]any{"kitchen": map[string]any{"read": true, "edit": false}},
		"all":      nil,
	}}

	once := MergePolicies([]Policy{p})
	twice := MergePolicies([]Policy{p, p})
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("MergePolicies([p, p]) = %#v, want %#v", twice, once)
	}
	if !reflect.DeepEqual(MergePolicies([]Policy{once}), once) {
		t.Error("merging a merged policy should not change it")
	}
}

func TestPolicyClone(t *testing.T) {
	orig := Policy{"entities": map[string]any{"all": map[string]any{"read": true}}}
	cp := orig.Clone()
	cp["entities"].(map[string]any)["all"].(map[string]any)["read"] = false

	if !orig["entities"].(map[string]any)["all"].(map[string]any)["read"].(bool) {
		t.Error("Clone() shares nested maps with the original")
	}
}
