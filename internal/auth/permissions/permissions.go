package permissions

import "sync"

// Permissions answers access questions for one user.
type Permissions interface {
	// AccessAllEntities reports whether key is granted on every entity.
	AccessAllEntities(key string) bool
	// CheckEntity reports whether key is granted on entityID.
	CheckEntity(entityID, key string) bool
}

// PolicyPermissions evaluates a merged policy. The entity check is compiled
// on first use and reused afterwards.
type PolicyPermissions struct {
	policy Policy
	lookup *Lookup

	once   sync.Once
	entity CheckFunc
}

// NewPolicyPermissions creates permissions for policy. lookup may be nil.
func NewPolicyPermissions(policy Policy, lookup *Lookup) *PolicyPermissions {
	return &PolicyPermissions{policy: policy, lookup: lookup}
}

// Policy returns the underlying policy.
func (p *PolicyPermissions) Policy() Policy {
	return p.policy
}

// AccessAllEntities implements Permissions.
func (p *PolicyPermissions) AccessAllEntities(key string) bool {
	return testAll(p.policy[CatEntities], key)
}

// CheckEntity implements Permissions.
func (p *PolicyPermissions) CheckEntity(entityID, key string) bool {
	p.once.Do(func() {
		p.entity = CompileEntities(p.policy[CatEntities], p.lookup)
	})
	return p.entity(entityID, key)
}

type ownerPermissions struct{}

func (ownerPermissions) AccessAllEntities(string) bool   { return true }
func (ownerPermissions) CheckEntity(string, string) bool { return true }

// OwnerPermissions grants everything.
var OwnerPermissions Permissions = ownerPermissions{}
