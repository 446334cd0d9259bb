// Package trustednetworks lets clients on configured networks sign in by
// picking a user, without a password.
//
// The provider never creates users and never asks for a second factor.
// Refresh tokens it issued stay bound to the trusted networks.
package trustednetworks

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// Type is the provider type name used in configuration.
const Type = "trusted_networks"

// DefaultName is shown when the configuration gives no name.
const DefaultName = "Trusted Networks"

// StepUser is the form field carrying the chosen user id.
const StepUser = "user"

// groupPrefix marks a trusted_users entry naming a group.
const groupPrefix = "group:"

// Options are the provider's configuration keys.
type Options struct {
	TrustedNetworks []string `yaml:"trusted_networks"`
	// TrustedUsers maps a network to the user ids, or group:<id> entries,
	// allowed from it. Networks without an entry allow every user.
	TrustedUsers     map[string][]string `yaml:"trusted_users"`
	AllowBypassLogin bool                `yaml:"allow_bypass_login"`
}

type trustedUsers struct {
	network  netip.Prefix
	userIDs  map[string]bool
	groupIDs map[string]bool
}

// Provider implements passwordless login for trusted networks.
type Provider struct {
	auth.ProviderBase
	networks    []netip.Prefix
	users       []trustedUsers
	allowBypass bool
}

// New creates a provider from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.Provider, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	return NewProvider(deps.Store, cfg.ID, cfg.Name, opts)
}

// NewProvider parses the networks in opts.
func NewProvider(store *auth.Store, id, name string, opts Options) (*Provider, error) {
	if len(opts.TrustedNetworks) == 0 {
		return nil, fmt.Errorf("%w: trusted_networks is required", auth.ErrInvalidConfig)
	}

	p := &Provider{
		ProviderBase: auth.NewProviderBase(store, Type, id, name, DefaultName),
		allowBypass:  opts.AllowBypassLogin,
	}
	for _, n := range opts.TrustedNetworks {
		prefix, err := parseNetwork(n)
		if err != nil {
			return nil, err
		}
		p.networks = append(p.networks, prefix)
	}

	for n, entries := range opts.TrustedUsers {
		prefix, err := parseNetwork(n)
		if err != nil {
			return nil, err
		}
		tu := trustedUsers{network: prefix, userIDs: map[string]bool{}, groupIDs: map[string]bool{}}
		for _, e := range entries {
			if g, ok := strings.CutPrefix(e, groupPrefix); ok {
				tu.groupIDs[g] = true
			} else {
				tu.userIDs[e] = true
			}
		}
		p.users = append(p.users, tu)
	}
	return p, nil
}

// parseNetwork accepts a CIDR or a single address.
func parseNetwork(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: invalid network %q", auth.ErrInvalidConfig, s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// SupportMFA is false: being on the network is the only factor.
func (p *Provider) SupportMFA() bool { return false }

// IsTrusted reports whether ip belongs to a trusted network.
func (p *Provider) IsTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range p.networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// availableUsers returns the active, non-system users allowed from ip.
func (p *Provider) availableUsers(ctx context.Context, ip string) ([]*auth.User, error) {
	all, err := p.Store.Users(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*auth.User
	for _, u := range all {
		if u.SystemGenerated || !u.IsActive {
			continue
		}
		candidates = append(candidates, u)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, nil
	}
	addr = addr.Unmap()

	var rules []trustedUsers
	for _, tu := range p.users {
		if tu.network.Contains(addr) {
			rules = append(rules, tu)
		}
	}
	if len(rules) == 0 {
		return candidates, nil
	}

	var out []*auth.User
	for _, u := range candidates {
		if allowedBy(rules, u) {
			out = append(out, u)
		}
	}
	return out, nil
}

func allowedBy(rules []trustedUsers, u *auth.User) bool {
	for _, r := range rules {
		if r.userIDs[u.ID] {
			return true
		}
		for _, g := range u.GroupIDs() {
			if r.groupIDs[g] {
				return true
			}
		}
	}
	return false
}

// LoginFlow offers the users allowed from the caller's address. Callers
// outside the trusted networks are aborted with not_allowed. With
// allow_bypass_login and a single candidate the form is skipped.
func (p *Provider) LoginFlow(_ context.Context, fctx auth.FlowContext) (auth.Stepper, error) {
	ip := fctx.IPAddress
	return auth.StepperFunc(func(ctx context.Context, _ string, input map[string]string) (auth.Step, error) {
		if !p.IsTrusted(ip) {
			return auth.AbortStep(auth.AbortNotAllowed), nil
		}
		users, err := p.availableUsers(ctx, ip)
		if err != nil {
			return auth.Step{}, err
		}
		if len(users) == 0 {
			return auth.AbortStep(auth.AbortNotAllowed), nil
		}

		if input == nil {
			if p.allowBypass && len(users) == 1 {
				return auth.DoneStep(map[string]string{StepUser: users[0].ID}), nil
			}
			options := make([]auth.Option, len(users))
			for i, u := range users {
				options[i] = auth.Option{Value: u.ID, Label: u.Name}
			}
			schema := []auth.Field{{Name: StepUser, Type: auth.FieldSelect, Required: true, Options: options}}
			return auth.FormStep(auth.StepInit, schema, nil), nil
		}

		chosen := input[StepUser]
		for _, u := range users {
			if u.ID == chosen {
				return auth.DoneStep(map[string]string{StepUser: chosen}), nil
			}
		}
		return auth.Step{}, auth.ErrInvalidAuth
	}), nil
}

// GetOrCreateCredentials returns the credentials linked to the chosen
// user, linking new ones on first use. Unknown, inactive and system users
// fail with ErrInvalidUser.
func (p *Provider) GetOrCreateCredentials(ctx context.Context, data map[string]string) (*auth.Credentials, error) {
	userID := data[StepUser]
	user, err := p.Store.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidUser, err)
	}
	if user.SystemGenerated || !user.IsActive {
		return nil, fmt.Errorf("%w: %s", auth.ErrInvalidUser, userID)
	}

	existing, err := p.FindCredentials(ctx, func(d map[string]string) bool {
		return d["user_id"] == userID
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	creds := p.NewCredentials(map[string]string{"user_id": userID})
	linked, err := p.Store.LinkUser(ctx, userID, creds)
	if err != nil {
		return nil, err
	}
	for _, c := range linked.Credentials {
		if c.ID == creds.ID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: credentials not linked", auth.ErrInvalidUser)
}

// UserMetaForCredentials always fails: this provider never creates users.
func (p *Provider) UserMetaForCredentials(context.Context, *auth.Credentials) (auth.UserMeta, error) {
	return auth.UserMeta{}, auth.ErrNotImplemented
}

// ValidateRefreshToken rejects token use from outside the trusted networks.
func (p *Provider) ValidateRefreshToken(_ context.Context, _ *auth.RefreshToken, remoteIP string) error {
	if remoteIP == "" || !p.IsTrusted(remoteIP) {
		return fmt.Errorf("%w: not accessing from a trusted network", auth.ErrInvalidAuth)
	}
	return nil
}
