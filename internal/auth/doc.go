// Package auth provides authentication, authorisation and sessions for the
// home-automation hub.
//
// It is built around:
//   - an identity Store of users, groups, credentials and refresh tokens,
//     persisted as one versioned document with debounced writes
//   - pluggable Providers that turn a login form into Credentials
//   - pluggable MFAModules that add a second factor after the provider step
//   - a LoginFlowManager that drives init → select_mfa_module → mfa
//   - a Manager that owns the registries, issues refresh tokens and signs
//     HS256 access tokens whose issuer is the refresh token id
//
// Permissions come from group policies (see package permissions). Owners
// bypass policy checks; system users never get client bound tokens.
//
// Providers and modules are constructed by name through ProviderRegistry and
// MFARegistry, each decoding its own options from configuration.
package auth
