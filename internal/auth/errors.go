package auth

import "errors"

// Sentinel errors for auth operations.
var (
	// ErrInvalidAuth reports rejected credentials. Login flows turn it into
	// the invalid_auth form error.
	ErrInvalidAuth = errors.New("invalid authentication")

	ErrInvalidUser    = errors.New("invalid user")
	ErrInvalidGroup   = errors.New("invalid group")
	ErrNotImplemented = errors.New("not implemented")
	ErrInvalidToken   = errors.New("invalid token")

	ErrUserNotFound   = errors.New("user not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrTokenNotFound  = errors.New("refresh token not found")
	ErrFlowNotFound   = errors.New("flow not found")
	ErrUserNotActive  = errors.New("user is not active")
	ErrOwnerProtected = errors.New("unable to deactivate the owner")

	// ErrRefreshTokenRule reports a refresh token request that breaks a
	// token type rule (client binding, system users, long-lived names).
	ErrRefreshTokenRule = errors.New("refresh token request not allowed")

	ErrUnknownProvider  = errors.New("unknown auth provider")
	ErrUnknownMFAModule = errors.New("unknown multi-factor auth module")
	ErrDuplicatePlugin  = errors.New("duplicate auth plugin")
	ErrNotRegistered    = errors.New("not registered")
	ErrInvalidConfig    = errors.New("invalid plugin configuration")
)
