// Package auth verifies the bearer tokens presented on the WebSocket handshake
// and the HTTP API.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// TokenCookie is the cookie browsers use to carry the token.
const TokenCookie = "auth_token"

// Claims are the token claims the engine relies on.
type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Config holds verification settings.
type Config struct {
	SigningMethod string // RS256 or HS256
	PublicKey     string // PEM, for RS256
	SecretKey     string // for HS256
	Issuer        string
}

// Validator checks signatures, expiry and issuer.
type Validator struct {
	publicKey     *rsa.PublicKey
	secretKey     []byte
	signingMethod jwt.SigningMethod
	issuer        string
}

// NewValidator creates a validator for the configured signing method.
func NewValidator(config Config) (*Validator, error) {
	v := &Validator{issuer: config.Issuer}

	switch config.SigningMethod {
	case "RS256":
		v.signingMethod = jwt.SigningMethodRS256
		if config.PublicKey == "" {
			return nil, errors.New("public key required for RS256")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		v.publicKey = key
	case "HS256", "":
		v.signingMethod = jwt.SigningMethodHS256
		if config.SecretKey == "" {
			return nil, errors.New("secret key required for HS256")
		}
		v.secretKey = []byte(config.SecretKey)
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", config.SigningMethod)
	}
	return v, nil
}

// ValidateToken parses tokenString and returns its claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{v.signingMethod.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user ID", ErrInvalidClaims)
	}
	return claims, nil
}

// TokenFromRequest finds a token in the query string, the Authorization
// header or the auth cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Authenticate validates the request's token.
func (v *Validator) Authenticate(r *http.Request) (*Claims, error) {
	return v.ValidateToken(TokenFromRequest(r))
}

// Issuer signs HS256 tokens. Production tokens come from the identity
// provider; the issuer serves local development and tests.
type Issuer struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewIssuer creates a token issuer.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secretKey: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue signs a token for userID.
func (i *Issuer) Issue(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secretKey)
}

// UserContext is the authenticated caller.
type UserContext struct {
	UserID   string
	Username string
}

type contextKey string

const userContextKey contextKey = "user"

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the caller stored by WithUser.
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok && user != nil
}
