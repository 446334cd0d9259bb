// Package mfa registers the built-in multi-factor auth modules.
package mfa

import (
	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/auth/mfa/example"
	"github.com/Hatles/rx-home-sub002/internal/auth/mfa/notify"
	"github.com/Hatles/rx-home-sub002/internal/auth/mfa/totp"
)

// RegisterAll adds every built-in module type to reg.
func RegisterAll(reg *auth.MFARegistry) {
	reg.Register(totp.Type, totp.New)
	reg.Register(notify.Type, notify.New)
	reg.Register(example.Type, example.New)
}

// NewRegistry returns a registry holding every built-in module type.
func NewRegistry() *auth.MFARegistry {
	reg := auth.NewMFARegistry()
	RegisterAll(reg)
	return reg
}
