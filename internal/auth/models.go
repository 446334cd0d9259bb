package auth

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/auth/permissions"
)

// System group ids and names.
const (
	GroupIDAdmin    = "system-admin"
	GroupIDUser     = "system-users"
	GroupIDReadOnly = "system-read-only"

	GroupNameAdmin    = "Administrators"
	GroupNameUser     = "Users"
	GroupNameReadOnly = "Read Only"
)

// TokenType classifies refresh tokens.
type TokenType string

const (
	TokenTypeSystem    TokenType = "system"
	TokenTypeNormal    TokenType = "normal"
	TokenTypeLongLived TokenType = "long_lived_access_token"
)

// DefaultAccessTokenExpiration is used when a refresh token is created
// without an explicit lifetime.
const DefaultAccessTokenExpiration = 30 * time.Minute

// Group is a named policy that users inherit.
type Group struct {
	ID              string
	Name            string
	Policy          permissions.Policy
	SystemGenerated bool
}

// Credentials link a provider identity to a user.
// IsNew is true until the credentials are linked to a user.
type Credentials struct {
	ID               string
	AuthProviderType string
	AuthProviderID   string
	Data             map[string]string
	IsNew            bool
}

// RefreshToken is a long-lived token that mints access tokens.
type RefreshToken struct {
	ID                    string
	UserID                string
	ClientID              string
	ClientName            string
	ClientIcon            string
	TokenType             TokenType
	CreatedAt             time.Time
	AccessTokenExpiration time.Duration
	Token                 string
	JWTKey                string
	LastUsedAt            time.Time
	LastUsedIP            string
	CredentialID          string
}

// User is a person or system account.
//
// Values returned by the Store are immutable snapshots: every mutation
// replaces the user with a new value, so callers may read fields without
// locking. Mutate only through the Store or Manager.
type User struct {
	ID              string
	Name            string
	IsOwner         bool
	IsActive        bool
	SystemGenerated bool

	// Groups keep assignment order.
	Groups        []*Group
	Credentials   []*Credentials
	RefreshTokens map[string]*RefreshToken

	lookup *permissions.Lookup
	cache  *permCache
}

type permCache struct {
	once sync.Once
	perm permissions.Permissions
}

// Permissions returns the merged permissions of the user's groups.
// Owners get every permission. The result is computed once per snapshot.
func (u *User) Permissions() permissions.Permissions {
	if u.IsOwner {
		return permissions.OwnerPermissions
	}
	c := u.cache
	if c == nil {
		return u.compilePermissions()
	}
	c.once.Do(func() { c.perm = u.compilePermissions() })
	return c.perm
}

func (u *User) compilePermissions() permissions.Permissions {
	policies := make([]permissions.Policy, 0, len(u.Groups))
	for _, g := range u.Groups {
		policies = append(policies, g.Policy)
	}
	return permissions.NewPolicyPermissions(permissions.MergePolicies(policies), u.lookup)
}

// IsAdmin reports whether the user is the owner or an administrator.
func (u *User) IsAdmin() bool {
	if u.IsOwner {
		return true
	}
	return u.IsActive && u.InGroup(GroupIDAdmin)
}

// InGroup reports whether the user belongs to groupID.
func (u *User) InGroup(groupID string) bool {
	for _, g := range u.Groups {
		if g.ID == groupID {
			return true
		}
	}
	return false
}

// GroupIDs returns the ids of the user's groups in order.
func (u *User) GroupIDs() []string {
	ids := make([]string, len(u.Groups))
	for i, g := range u.Groups {
		ids[i] = g.ID
	}
	return ids
}

// clone returns a copy that can be mutated without affecting u.
// The permission cache is reset.
func (u *User) clone() *User {
	return &User{
		ID:              u.ID,
		Name:            u.Name,
		IsOwner:         u.IsOwner,
		IsActive:        u.IsActive,
		SystemGenerated: u.SystemGenerated,
		Groups:          slices.Clone(u.Groups),
		Credentials:     slices.Clone(u.Credentials),
		RefreshTokens:   maps.Clone(u.RefreshTokens),
		lookup:          u.lookup,
		cache:           &permCache{},
	}
}

// UserMeta is what a provider knows about the person behind credentials.
type UserMeta struct {
	Name     string
	IsActive bool
	// Group is the group a new user joins. Empty means Administrators.
	Group string
}

func systemGroups() []*Group {
	return []*Group{
		{ID: GroupIDAdmin, Name: GroupNameAdmin, Policy: permissions.AdminPolicy.Clone(), SystemGenerated: true},
		{ID: GroupIDUser, Name: GroupNameUser, Policy: permissions.UserPolicy.Clone(), SystemGenerated: true},
		{ID: GroupIDReadOnly, Name: GroupNameReadOnly, Policy: permissions.ReadOnlyPolicy.Clone(), SystemGenerated: true},
	}
}
