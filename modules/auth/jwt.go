package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

const tokenTypeAccess = "access"

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey           string
	Issuer              string
	AccessTokenDuration time.Duration
}

// JWTClaims are the claims of a marketplace access token.
type JWTClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 access tokens.
type JWTManager struct {
	config JWTConfig
}

// NewJWTManager creates a new JWTManager with the given configuration.
func NewJWTManager(config JWTConfig) *JWTManager {
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	return &JWTManager{config: config}
}

// GenerateAccessToken issues an access token for a user. The marketplace
// auth service issues tokens in production; this is used by tooling and tests.
func (m *JWTManager) GenerateAccessToken(userID, email string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:    userID,
		Email:     email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

// ValidateAccessToken verifies signature, expiry, issuer and token type.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(m.config.SecretKey), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
