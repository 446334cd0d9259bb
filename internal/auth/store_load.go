package auth

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/auth/permissions"
)

// Persisted shape of the identity document. Optional fields are pointers so
// an absent key can be told apart from a zero value.
type storedData struct {
	Users         []storedUser         `json:"users"`
	Groups        []storedGroup        `json:"groups"`
	Credentials   []storedCredentials  `json:"credentials"`
	RefreshTokens []storedRefreshToken `json:"refresh_tokens"`
}

type storedUser struct {
	ID              string   `json:"id"`
	GroupIDs        []string `json:"group_ids"`
	IsOwner         bool     `json:"is_owner"`
	IsActive        bool     `json:"is_active"`
	Name            string   `json:"name"`
	SystemGenerated bool     `json:"system_generated"`
}

type storedGroup struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Policy *permissions.Policy `json:"policy,omitempty"`
}

type storedCredentials struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	AuthProviderType string            `json:"auth_provider_type"`
	AuthProviderID   *string           `json:"auth_provider_id"`
	Data             map[string]string `json:"data"`
}

type storedRefreshToken struct {
	ID                    string  `json:"id"`
	UserID                string  `json:"user_id"`
	ClientID              *string `json:"client_id"`
	ClientName            *string `json:"client_name"`
	ClientIcon            *string `json:"client_icon"`
	TokenType             *string `json:"token_type"`
	CreatedAt             string  `json:"created_at"`
	AccessTokenExpiration float64 `json:"access_token_expiration"`
	Token                 string  `json:"token"`
	JWTKey                *string `json:"jwt_key"`
	LastUsedAt            *string `json:"last_used_at"`
	LastUsedIP            *string `json:"last_used_ip"`
	CredentialID          *string `json:"credential_id"`
}

// Schema generations of the identity document, oldest first.
const (
	// genNoPolicyGroup: a single custom group without a policy stood for
	// "administrator".
	genNoPolicyGroup = 1
	// genNoGroups: groups did not exist yet.
	genNoGroups = 2
	// genCurrent: groups carry policies.
	genCurrent = 3
)

func isSystemGroupID(id string) bool {
	return id == GroupIDAdmin || id == GroupIDUser || id == GroupIDReadOnly
}

// detectGeneration infers the schema generation from content.
func detectGeneration(d *storedData) int {
	if len(d.Groups) == 0 {
		return genNoGroups
	}
	for _, g := range d.Groups {
		if !isSystemGroupID(g.ID) && g.Policy == nil {
			return genNoPolicyGroup
		}
	}
	return genCurrent
}

func (s *Store) load(ctx context.Context) (*state, error) {
	var data storedData
	_, found, err := s.doc.Load(ctx, &data)
	if err != nil {
		return nil, err
	}

	st := newState()
	if !found {
		for _, g := range systemGroups() {
			st.putGroup(g)
		}
		return st, nil
	}

	switch gen := detectGeneration(&data); gen {
	case genNoPolicyGroup:
		s.logger.Warn("migrating auth store", "from_generation", gen)
		s.loadNoPolicyGroup(st, &data)
	case genNoGroups:
		s.logger.Warn("migrating auth store", "from_generation", gen)
		s.loadNoGroups(st, &data)
	default:
		s.loadCurrent(st, &data)
	}

	s.attachCredentials(st, &data)
	s.attachRefreshTokens(st, &data)

	s.logger.Debug("auth store loaded", "users", len(st.users), "groups", len(st.groups))
	return st, nil
}

// loadCurrent decodes groups with policies and users referencing them.
func (s *Store) loadCurrent(st *state, d *storedData) {
	s.loadGroups(st, d)
	ensureSystemGroups(st)
	s.loadUsers(st, d, nil, false)
}

// loadNoGroups puts every non-system user into Administrators.
func (s *Store) loadNoGroups(st *state, d *storedData) {
	ensureSystemGroups(st)
	s.loadUsers(st, d, nil, true)
}

// loadNoPolicyGroup drops custom groups without a policy. Users that
// referenced them become administrators when no group with a policy was
// stored; otherwise the reference is dropped.
func (s *Store) loadNoPolicyGroup(st *state, d *storedData) {
	noPolicy := s.loadGroups(st, d)

	remap := map[string]string{}
	if len(st.groups) == 0 {
		for id := range noPolicy {
			remap[id] = GroupIDAdmin
		}
	} else {
		for id := range noPolicy {
			s.logger.Warn("dropping group without policy", "group_id", id)
		}
	}

	ensureSystemGroups(st)
	s.loadUsers(st, d, remap, false)
}

// loadGroups adds stored groups to st and returns ids of custom groups
// that had no policy. System groups always get their built-in policy.
func (s *Store) loadGroups(st *state, d *storedData) map[string]struct{} {
	noPolicy := map[string]struct{}{}
	builtins := map[string]*Group{}
	for _, g := range systemGroups() {
		builtins[g.ID] = g
	}

	for _, sg := range d.Groups {
		if g, ok := builtins[sg.ID]; ok {
			st.putGroup(g)
			continue
		}
		if sg.Policy == nil {
			noPolicy[sg.ID] = struct{}{}
			continue
		}
		if err := permissions.ValidatePolicy(*sg.Policy); err != nil {
			s.logger.Warn("group policy does not validate", "group_id", sg.ID, "error", err)
		}
		st.putGroup(&Group{ID: sg.ID, Name: sg.Name, Policy: *sg.Policy})
	}
	return noPolicy
}

func ensureSystemGroups(st *state) {
	for _, g := range systemGroups() {
		if _, ok := st.groups[g.ID]; !ok {
			st.putGroup(g)
		}
	}
}

func (s *Store) loadUsers(st *state, d *storedData, remap map[string]string, allAdmins bool) {
	for _, su := range d.Users {
		u := &User{
			ID:              su.ID,
			Name:            su.Name,
			IsOwner:         su.IsOwner,
			IsActive:        su.IsActive,
			SystemGenerated: su.SystemGenerated,
			RefreshTokens:   make(map[string]*RefreshToken),
			lookup:          s.lookup,
			cache:           &permCache{},
		}

		seen := map[string]struct{}{}
		add := func(id string) {
			if _, dup := seen[id]; dup {
				return
			}
			g, ok := st.groups[id]
			if !ok {
				s.logger.Warn("user references unknown group", "user_id", su.ID, "group_id", id)
				return
			}
			seen[id] = struct{}{}
			u.Groups = append(u.Groups, g)
		}

		for _, id := range su.GroupIDs {
			if to, ok := remap[id]; ok {
				id = to
			}
			add(id)
		}
		if allAdmins && !su.SystemGenerated {
			add(GroupIDAdmin)
		}
		st.putUser(u)
	}
}

func (s *Store) attachCredentials(st *state, d *storedData) {
	for _, sc := range d.Credentials {
		u, ok := st.users[sc.UserID]
		if !ok {
			s.logger.Warn("credentials reference unknown user", "credentials_id", sc.ID, "user_id", sc.UserID)
			continue
		}
		u.Credentials = append(u.Credentials, &Credentials{
			ID:               sc.ID,
			AuthProviderType: sc.AuthProviderType,
			AuthProviderID:   deref(sc.AuthProviderID),
			Data:             sc.Data,
		})
	}
}

func (s *Store) attachRefreshTokens(st *state, d *storedData) {
	for _, sr := range d.RefreshTokens {
		// Tokens from before per-token signing keys cannot mint access tokens.
		if sr.JWTKey == nil {
			continue
		}

		createdAt, err := parseStoredTime(sr.CreatedAt)
		if err != nil {
			s.logger.Error("ignoring refresh token with invalid created_at",
				"token_id", sr.ID, "created_at", sr.CreatedAt, "user_id", sr.UserID)
			continue
		}

		u, ok := st.users[sr.UserID]
		if !ok {
			s.logger.Warn("refresh token references unknown user", "token_id", sr.ID, "user_id", sr.UserID)
			continue
		}

		tokenType := TokenType(deref(sr.TokenType))
		if tokenType == "" {
			if sr.ClientID == nil {
				tokenType = TokenTypeSystem
			} else {
				tokenType = TokenTypeNormal
			}
		}

		rt := &RefreshToken{
			ID:                    sr.ID,
			UserID:                sr.UserID,
			ClientID:              deref(sr.ClientID),
			ClientName:            deref(sr.ClientName),
			ClientIcon:            deref(sr.ClientIcon),
			TokenType:             tokenType,
			CreatedAt:             createdAt,
			AccessTokenExpiration: secondsToDuration(sr.AccessTokenExpiration),
			Token:                 sr.Token,
			JWTKey:                *sr.JWTKey,
			LastUsedIP:            deref(sr.LastUsedIP),
			CredentialID:          deref(sr.CredentialID),
		}
		if sr.LastUsedAt != nil {
			if t, err := parseStoredTime(*sr.LastUsedAt); err == nil {
				rt.LastUsedAt = t
			}
		}
		u.RefreshTokens[rt.ID] = rt
	}
}

// dataToSave snapshots the graph in the current schema.
func (s *Store) dataToSave() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := storedData{
		Users:         []storedUser{},
		Groups:        []storedGroup{},
		Credentials:   []storedCredentials{},
		RefreshTokens: []storedRefreshToken{},
	}

	for _, id := range s.st.groupOrder {
		g := s.st.groups[id]
		sg := storedGroup{ID: g.ID, Name: g.Name}
		if !g.SystemGenerated {
			p := g.Policy
			if p == nil {
				p = permissions.Policy{}
			}
			sg.Policy = &p
		}
		data.Groups = append(data.Groups, sg)
	}

	for _, id := range s.st.userOrder {
		u := s.st.users[id]
		data.Users = append(data.Users, storedUser{
			ID:              u.ID,
			GroupIDs:        u.GroupIDs(),
			IsOwner:         u.IsOwner,
			IsActive:        u.IsActive,
			Name:            u.Name,
			SystemGenerated: u.SystemGenerated,
		})
		for _, c := range u.Credentials {
			data.Credentials = append(data.Credentials, storedCredentials{
				ID:               c.ID,
				UserID:           u.ID,
				AuthProviderType: c.AuthProviderType,
				AuthProviderID:   ptr(c.AuthProviderID),
				Data:             c.Data,
			})
		}
		for _, rt := range sortedTokens(u.RefreshTokens) {
			sr := storedRefreshToken{
				ID:                    rt.ID,
				UserID:                u.ID,
				ClientID:              ptr(rt.ClientID),
				ClientName:            ptr(rt.ClientName),
				ClientIcon:            ptr(rt.ClientIcon),
				TokenType:             ptr(string(rt.TokenType)),
				CreatedAt:             rt.CreatedAt.UTC().Format(time.RFC3339Nano),
				AccessTokenExpiration: rt.AccessTokenExpiration.Seconds(),
				Token:                 rt.Token,
				JWTKey:                ptr(rt.JWTKey),
				LastUsedIP:            ptr(rt.LastUsedIP),
				CredentialID:          ptr(rt.CredentialID),
			}
			if !rt.LastUsedAt.IsZero() {
				sr.LastUsedAt = ptr(rt.LastUsedAt.UTC().Format(time.RFC3339Nano))
			}
			data.RefreshTokens = append(data.RefreshTokens, sr)
		}
	}
	return data
}

// storedTimeLayouts are tried in order; naive timestamps are read as UTC.
var storedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseStoredTime(v string) (time.Time, error) {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
}

func secondsToDuration(sec float64) time.Duration {
	if sec <= 0 || math.IsNaN(sec) {
		return DefaultAccessTokenExpiration
	}
	return time.Duration(sec * float64(time.Second))
}

// sortedTokens orders tokens by creation time so saved documents are stable.
func sortedTokens(m map[string]*RefreshToken) []*RefreshToken {
	out := make([]*RefreshToken, 0, len(m))
	for _, rt := range m {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ptr maps "" to a JSON null.
func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
