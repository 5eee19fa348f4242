// Package auth provides JWT token management for API sessions. Access
// tokens (2h TTL) authorize API calls, refresh tokens (30d TTL) obtain
// new token pairs.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes.
const (
	ScopeAccess  = "consorcio.access"
	ScopeRefresh = "consorcio.refresh"
)

// Token lifetimes.
const (
	AccessTTL  = 2 * time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims extends the standard JWT claims with the caller's role, the
// building they act on and a scope.
type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	BuildingID string `json:"buildingId,omitempty"`
	Scope      string `json:"scope"`
}

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	UserID     string
	Role       string
	BuildingID string
}

// TokenPair holds an access/refresh JWT pair returned on login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// JWTManager signs and validates JWT tokens using HS256.
type JWTManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTManager creates a manager with the given HMAC secret and issuer.
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// CreateTokenPair generates an access/refresh token pair for id.
func (m *JWTManager) CreateTokenPair(id Identity) (*TokenPair, error) {
	access, err := m.sign(id, ScopeAccess, AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}
	refresh, err := m.sign(id, ScopeRefresh, RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *JWTManager) sign(id Identity, scope string, ttl time.Duration) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:       id.Role,
		BuildingID: id.BuildingID,
		Scope:      scope,
	})
	return token.SignedString(m.secret)
}

// ValidateAccessToken parses and validates an access token.
func (m *JWTManager) ValidateAccessToken(tokenStr string) (Identity, error) {
	return m.validate(tokenStr, ScopeAccess)
}

// ValidateRefreshToken parses and validates a refresh token.
func (m *JWTManager) ValidateRefreshToken(tokenStr string) (Identity, error) {
	return m.validate(tokenStr, ScopeRefresh)
}

func (m *JWTManager) validate(tokenStr, expectedScope string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	if claims.Scope != expectedScope {
		return Identity{}, fmt.Errorf("%w: wrong scope: got %q, want %q", ErrInvalidToken, claims.Scope, expectedScope)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{UserID: claims.Subject, Role: claims.Role, BuildingID: claims.BuildingID}, nil
}
