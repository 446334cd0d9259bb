// Package service guards service calls with the caller's entity permissions.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/auth/permissions"
)

// Errors returned by Guard.Check.
var (
	ErrUnknownUser  = errors.New("service: unknown user")
	ErrUnauthorized = errors.New("service: unauthorized")
)

// MatchAll targets every entity of the call's domain.
const MatchAll = "all"

// UserSource resolves the calling user. *auth.Manager satisfies it.
type UserSource interface {
	User(ctx context.Context, id string) (*auth.User, error)
}

// EntityIndex lists entities per domain. *registry.Registry satisfies it.
type EntityIndex interface {
	EntityIDs(domain string) []string
}

// Logger defines the logging interface used by Guard.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Call is one service invocation to authorise.
type Call struct {
	Domain  string
	Service string
	// UserID is empty for calls made by the hub itself.
	UserID string
	// EntityIDs are the targets, or a single MatchAll.
	EntityIDs []string
}

// Guard checks control permission on service call targets.
type Guard struct {
	users  UserSource
	index  EntityIndex
	logger Logger
}

// NewGuard creates a guard.
func NewGuard(users UserSource, index EntityIndex, logger Logger) *Guard {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Guard{users: users, index: index, logger: logger}
}

// Check returns the entity ids the call may act on.
//
// Explicit targets must all be controllable, otherwise the call fails with
// ErrUnauthorized. A MatchAll target is narrowed to the controllable
// entities of the domain and fails only when none are.
func (g *Guard) Check(ctx context.Context, call Call) ([]string, error) {
	all := len(call.EntityIDs) == 1 && call.EntityIDs[0] == MatchAll
	if call.UserID == "" {
		if all {
			return g.index.EntityIDs(call.Domain), nil
		}
		return call.EntityIDs, nil
	}

	user, err := g.users.User(ctx, call.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, call.UserID)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, g.deny(call, "", "user is not active")
	}
	perms := user.Permissions()

	if all {
		candidates := g.index.EntityIDs(call.Domain)
		if perms.AccessAllEntities(permissions.PolicyControl) {
			return candidates, nil
		}
		allowed := make([]string, 0, len(candidates))
		for _, id := range candidates {
			if perms.CheckEntity(id, permissions.PolicyControl) {
				allowed = append(allowed, id)
			}
		}
		if len(allowed) == 0 && len(candidates) > 0 {
			return nil, g.deny(call, MatchAll, "no controllable entity in domain")
		}
		return allowed, nil
	}

	for _, id := range call.EntityIDs {
		if !perms.CheckEntity(id, permissions.PolicyControl) {
			return nil, g.deny(call, id, "missing control permission")
		}
	}
	return call.EntityIDs, nil
}

func (g *Guard) deny(call Call, entityID, reason string) error {
	g.logger.Warn("service call denied",
		"user_id", call.UserID,
		"domain", call.Domain,
		"service", call.Service,
		"entity_id", entityID,
		"reason", reason,
	)
	if entityID == "" {
		return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
	}
	return fmt.Errorf("%w: %s on %s", ErrUnauthorized, permissions.PolicyControl, entityID)
}
