// Package auth issues and validates the bearer tokens sessions present to
// every adapter, and hashes/verifies user passwords. Tokens are signed
// locally (HS256) rather than validated against an external identity
// provider: the engine is its own issuer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/types"
)

// Claims is the JWT claim set carried by issued tokens: subject (user id),
// session id, username, and role, alongside the registered exp/iat claims.
type Claims struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Validator issues and validates locally-signed session tokens.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator builds a Validator keyed by secret. An empty secret is
// rejected: callers must generate one at startup when JWT_SECRET is unset
// (see internal/v1/config).
func NewValidator(secret string, issuer string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret must not be empty")
	}
	return &Validator{secret: []byte(secret), issuer: issuer}, nil
}

// IssueToken signs a token asserting the given user/session/role, expiring
// at expiresAt.
func (v *Validator) IssueToken(userID types.UserID, sessionID types.SessionID, username string, role types.Role, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		Username:  username,
		Role:      string(role),
		SessionID: string(sessionID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token string, returning its claims.
// Expiration is enforced by the jwt library; the caller is still responsible
// for checking the referenced session against the session store, since a
// token can outlive an explicitly logged-out session.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("auth: unexpected claims type")
	}
	return claims, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated list of CORS origins from
// the named environment variable, falling back to defaultEnvs and logging a
// warning when it is unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
