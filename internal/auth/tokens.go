package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessTokenLeeway absorbs clock skew between token issue and validation.
const accessTokenLeeway = 10 * time.Second

// CreateAccessToken records the use of rt and returns a signed access token.
//
// The token is an HS256 JWT signed with the refresh token's own key. Its
// issuer is the refresh token id, so removing the refresh token revokes
// every access token it minted.
func (m *Manager) CreateAccessToken(ctx context.Context, rt *RefreshToken, remoteIP string) (string, error) {
	updated, err := m.store.LogRefreshTokenUsage(ctx, rt.ID, remoteIP)
	if err != nil {
		return "", err
	}

	now := m.now()
	claims := jwt.RegisteredClaims{
		Issuer:    updated.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(updated.AccessTokenExpiration)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(updated.JWTKey))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken returns the refresh token that minted tokenString.
//
// The issuer is read from the unverified token only to find the signing
// key; the token is then verified with that key, the expected issuer and
// a small leeway. The token owner must still be active.
func (m *Manager) ValidateAccessToken(ctx context.Context, tokenString string) (rt *RefreshToken, err error) {
	defer func() { m.recorder.ObserveTokenValidation(err == nil) }()

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &jwt.RegisteredClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	issuer, err := unverified.Claims.GetIssuer()
	if err != nil || issuer == "" {
		return nil, fmt.Errorf("%w: missing issuer", ErrInvalidToken)
	}

	rt, err = m.store.RefreshToken(ctx, issuer)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: unknown issuer", ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(rt.ID),
		jwt.WithLeeway(accessTokenLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if _, err := parser.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(rt.JWTKey), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := m.store.User(ctx, rt.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrUserNotActive)
	}
	return rt, nil
}
