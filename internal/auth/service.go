package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"appforge/pkg/models"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password,
	// deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
)

// Service implements account registration, login, and the GitHub link flow.
type Service struct {
	db     *gorm.DB
	jwt    *JWTService
	github *GitHubOAuth
}

// NewService creates the auth service.
func NewService(db *gorm.DB, jwt *JWTService, github *GitHubOAuth) *Service {
	return &Service{db: db, jwt: jwt, github: github}
}

// JWT exposes the token service for middleware wiring.
func (s *Service) JWT() *JWTService { return s.jwt }

// GitHub exposes the OAuth flow for handler wiring.
func (s *Service) GitHub() *GitHubOAuth { return s.github }

// TokenPair is returned on successful authentication.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Register creates an account and returns a signed-in session.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, *TokenPair, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" {
		return nil, nil, errors.New("username and email are required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	var count int64
	s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return nil, nil, ErrEmailTaken
	}
	s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count)
	if count > 0 {
		return nil, nil, ErrUsernameTaken
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Login authenticates by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("login query failed: %w", err)
	}

	if !CheckPassword(password, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(&user)
	if err != nil {
		return nil, nil, err
	}
	return &user, tokens, nil
}

// Refresh issues a new access token from a refresh token.
func (s *Service) Refresh(refreshToken string) (string, error) {
	return s.jwt.RefreshAccessToken(refreshToken)
}

// GetUser loads a user by ID.
func (s *Service) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("user %d not found: %w", userID, err)
	}
	return &user, nil
}

// ValidateUserToken resolves an access token to a user ID. The WebSocket
// hub uses this for token-in-query authentication.
func (s *Service) ValidateUserToken(token string) (uint, error) {
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// LinkGitHub completes the OAuth callback: exchanges the code, fetches the
// GitHub identity, and upserts the connection row for the user.
func (s *Service) LinkGitHub(ctx context.Context, userID uint, code string) (*models.OAuthConnection, error) {
	token, err := s.github.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	ghUser, err := s.github.FetchUser(ctx, token)
	if err != nil {
		return nil, err
	}

	conn := models.OAuthConnection{
		UserID:         userID,
		Provider:       "github",
		ProviderUserID: strconv.FormatInt(ghUser.ID, 10),
		Login:          ghUser.Login,
		AvatarURL:      ghUser.AvatarURL,
		AccessToken:    token.AccessToken,
		TokenType:      token.TokenType,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		conn.ExpiresAt = &expiry
	}

	var existing models.OAuthConnection
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, "github").
		First(&existing).Error
	switch {
	case err == nil:
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(&conn).Error; err != nil {
			return nil, fmt.Errorf("failed to update github connection: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(&conn).Error; err != nil {
			return nil, fmt.Errorf("failed to save github connection: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to look up github connection: %w", err)
	}

	return &conn, nil
}

// GetConnections lists a user's linked identities.
func (s *Service) GetConnections(ctx context.Context, userID uint) ([]models.OAuthConnection, error) {
	var conns []models.OAuthConnection
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&conns).Error
	return conns, err
}

// GitHubToken returns a valid GitHub token for the user, if linked.
func (s *Service) GitHubToken(ctx context.Context, userID uint) (*oauth2.Token, error) {
	var conn models.OAuthConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, "github").
		First(&conn).Error
	if err != nil {
		return nil, fmt.Errorf("github not linked: %w", err)
	}
	if conn.ExpiresAt != nil && time.Now().After(*conn.ExpiresAt) {
		return nil, errors.New("github token expired, re-link required")
	}
	return &oauth2.Token{
		AccessToken: conn.AccessToken,
		TokenType:   conn.TokenType,
	}, nil
}

func (s *Service) issueTokens(user *models.User) (*TokenPair, error) {
	access, refresh, err := s.jwt.GenerateTokens(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
