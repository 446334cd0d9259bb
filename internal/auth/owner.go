package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ownerPasswordBytes is the number of random bytes in a seeded owner password.
const ownerPasswordBytes = 16

// OwnerEnroller is a provider that can store a username and password.
// The password provider implements it.
type OwnerEnroller interface {
	Provider
	AddAuth(ctx context.Context, username, password string) error
}

// SeedOwner creates the owner account on first boot if no user other than
// system users exists. The generated password is logged once at Warn and
// returned; it must be changed immediately. An empty password means seeding
// was skipped.
func (m *Manager) SeedOwner(ctx context.Context, enroller OwnerEnroller, username, name string) (string, error) {
	users, err := m.store.Users(ctx)
	if err != nil {
		return "", fmt.Errorf("checking users: %w", err)
	}
	for _, u := range users {
		if !u.SystemGenerated {
			m.logger.Info("users exist, skipping owner seed")
			return "", nil
		}
	}

	passwordBytes := make([]byte, ownerPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	if err := enroller.AddAuth(ctx, username, password); err != nil {
		return "", fmt.Errorf("adding owner login: %w", err)
	}
	creds, err := enroller.GetOrCreateCredentials(ctx, map[string]string{"username": username})
	if err != nil {
		return "", fmt.Errorf("creating owner credentials: %w", err)
	}

	if name == "" {
		name = username
	}
	owner, err := m.CreateUser(ctx, CreateUserOptions{
		Name:        name,
		GroupIDs:    []string{GroupIDAdmin},
		Credentials: creds,
	})
	if err != nil {
		return "", fmt.Errorf("creating seed owner: %w", err)
	}

	m.logger.Warn("seed owner account created",
		"user_id", owner.ID,
		"username", username,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
