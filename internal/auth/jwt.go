// Package auth handles accounts: JWT sessions, password hashing, and the
// GitHub OAuth link flow.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity embedded in tokens.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// JWTService signs and validates access and refresh tokens.
type JWTService struct {
	secretKey []byte
	issuer    string
}

// NewJWTService creates a token service. Refresh tokens are signed with the
// same secret but a distinct audience, so the two token kinds are not
// interchangeable.
func NewJWTService(secretKey, issuer string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
	}
}

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

// GenerateTokens creates both access and refresh tokens
func (j *JWTService) GenerateTokens(userID uint, username, email string) (accessToken, refreshToken string, err error) {
	accessToken, err = j.sign(userID, username, email, audienceAccess, accessTokenTTL)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = j.sign(userID, username, email, audienceRefresh, refreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (j *JWTService) sign(userID uint, username, email, audience string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    j.issuer,
			Subject:   username,
			Audience:  jwt.ClaimStrings{audience},
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
}

// ValidateAccessToken validates and parses an access token.
func (j *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return j.validate(tokenString, audienceAccess)
}

// ValidateRefreshToken validates and parses a refresh token.
func (j *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return j.validate(tokenString, audienceRefresh)
}

func (j *JWTService) validate(tokenString, audience string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return j.secretKey, nil
	}, jwt.WithAudience(audience))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// RefreshAccessToken generates a new access token from a valid refresh
// token.
func (j *JWTService) RefreshAccessToken(refreshToken string) (string, error) {
	claims, err := j.ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", err
	}
	return j.sign(claims.UserID, claims.Username, claims.Email, audienceAccess, accessTokenTTL)
}
