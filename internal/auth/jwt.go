// Package auth verifies the signed tokens clients present when connecting and
// issues them for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

var (
	// ErrUnauthorized is returned for missing, malformed or badly signed tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExpiredToken is returned when the token has expired. It wraps ErrUnauthorized.
	ErrExpiredToken = fmt.Errorf("token has expired: %w", ErrUnauthorized)
)

// DefaultRole is assigned when a token carries no role.
const DefaultRole = "user"

// Config holds token configuration.
type Config struct {
	Secret string
	// Issuer, when set, is stamped on issued tokens and required on verified ones.
	Issuer   string
	TokenTTL time.Duration
}

// Claims is the token payload.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager creates a Manager with the given configuration.
func NewManager(config Config) *Manager {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 7 * 24 * time.Hour
	}
	return &Manager{config: config, parser: jwt.NewParser(opts...)}
}

// Issue signs a token for user.
func (m *Manager) Issue(user protocol.User) (string, error) {
	now := time.Now()
	role := user.Role
	if role == "" {
		role = DefaultRole
	}
	claims := Claims{
		ID:       user.ID,
		Username: user.Username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// Verify checks the token signature and expiry and returns the identity it carries.
func (m *Manager) Verify(token string) (protocol.User, error) {
	if token == "" {
		return protocol.User{}, ErrUnauthorized
	}

	var claims Claims
	parsed, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return protocol.User{}, ErrExpiredToken
		}
		return protocol.User{}, ErrUnauthorized
	}
	if !parsed.Valid || claims.ID == "" || claims.Username == "" {
		return protocol.User{}, ErrUnauthorized
	}

	role := claims.Role
	if role == "" {
		role = DefaultRole
	}
	return protocol.User{ID: claims.ID, Username: claims.Username, Role: role}, nil
}
