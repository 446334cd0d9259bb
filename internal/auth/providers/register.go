// Package providers registers the built-in auth providers.
package providers

import (
	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/auth/providers/commandline"
	"github.com/Hatles/rx-home-sub002/internal/auth/providers/example"
	"github.com/Hatles/rx-home-sub002/internal/auth/providers/legacyapi"
	"github.com/Hatles/rx-home-sub002/internal/auth/providers/password"
	"github.com/Hatles/rx-home-sub002/internal/auth/providers/trustednetworks"
)

// RegisterAll adds every built-in provider type to reg.
func RegisterAll(reg *auth.ProviderRegistry) {
	reg.Register(password.Type, password.New)
	reg.Register(commandline.Type, commandline.New)
	reg.Register(trustednetworks.Type, trustednetworks.New)
	reg.Register(legacyapi.Type, legacyapi.New)
	reg.Register(example.Type, example.New)
}

// NewRegistry returns a registry holding every built-in provider type.
func NewRegistry() *auth.ProviderRegistry {
	reg := auth.NewProviderRegistry()
	RegisterAll(reg)
	return reg
}
