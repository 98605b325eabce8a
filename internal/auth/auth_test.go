package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"appforge/internal/db"
)

func newTestService(t *testing.T, github *GitHubOAuth) *Service {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jwt := NewJWTService("test-secret-that-is-long-enough-0000", "appforge-test")
	return NewService(database.DB, jwt, github)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret-that-is-long-enough-0000", "appforge-test")

	access, refresh, err := svc.GenerateTokens(42, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	claims, err := svc.ValidateAccessToken(access)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Errorf("claims = %d/%q, want 42/alice", claims.UserID, claims.Username)
	}

	// A refresh token must not pass as an access token, and vice versa.
	if _, err := svc.ValidateAccessToken(refresh); err == nil {
		t.Error("refresh token accepted as access token")
	}
	if _, err := svc.ValidateRefreshToken(access); err == nil {
		t.Error("access token accepted as refresh token")
	}

	newAccess, err := svc.RefreshAccessToken(refresh)
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if _, err := svc.ValidateAccessToken(newAccess); err != nil {
		t.Errorf("refreshed access token invalid: %v", err)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	a := NewJWTService("secret-a-that-is-long-enough-00000000", "appforge-test")
	b := NewJWTService("secret-b-that-is-long-enough-00000000", "appforge-test")

	access, _, err := a.GenerateTokens(1, "bob", "bob@example.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := b.ValidateAccessToken(access); err == nil {
		t.Error("token signed with a different secret was accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("correct horse battery", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong password", hash) {
		t.Error("wrong password accepted")
	}
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected error for password under minimum length")
	}
}

func TestOAuthStateConsumedOnce(t *testing.T) {
	gh := NewGitHubOAuth("id", "secret", "http://localhost/callback")

	_, state, err := gh.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	if !gh.ConsumeState(state) {
		t.Error("fresh state rejected")
	}
	if gh.ConsumeState(state) {
		t.Error("state accepted twice")
	}
	if gh.ConsumeState("never-issued") {
		t.Error("unknown state accepted")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	user, tokens, err := svc.Register(ctx, "alice", "Alice@Example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Error("expected both tokens on register")
	}

	if _, _, err := svc.Register(ctx, "alice2", "alice@example.com", "password123"); err != ErrEmailTaken {
		t.Errorf("duplicate email: got %v, want ErrEmailTaken", err)
	}
	if _, _, err := svc.Register(ctx, "alice", "other@example.com", "password123"); err != ErrUsernameTaken {
		t.Errorf("duplicate username: got %v, want ErrUsernameTaken", err)
	}

	got, _, err := svc.Login(ctx, "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("login returned user %d, want %d", got.ID, user.ID)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "nope-nope"); err != ErrInvalidCredentials {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "password123"); err != ErrInvalidCredentials {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateUserToken(t *testing.T) {
	svc := newTestService(t, nil)

	user, tokens, err := svc.Register(context.Background(), "carol", "carol@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	uid, err := svc.ValidateUserToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateUserToken: %v", err)
	}
	if uid != user.ID {
		t.Errorf("uid = %d, want %d", uid, user.ID)
	}
	if _, err := svc.ValidateUserToken("garbage"); err == nil {
		t.Error("garbage token accepted")
	}
}

func TestLinkGitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "gho_test",
			"token_type":   "bearer",
			"scope":        "read:user,user:email",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(GitHubUser{
			ID: 9001, Login: "octo", Name: "Octo Cat", AvatarURL: "https://example.com/a.png",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gh := NewGitHubOAuth("id", "secret", "http://localhost/callback")
	gh.config.Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/authorize",
		TokenURL: srv.URL + "/token",
	}
	gh.apiBaseURL = srv.URL

	svc := newTestService(t, gh)
	ctx := context.Background()

	user, _, err := svc.Register(ctx, "dave", "dave@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	conn, err := svc.LinkGitHub(ctx, user.ID, "the-code")
	if err != nil {
		t.Fatalf("LinkGitHub: %v", err)
	}
	if conn.Login != "octo" || conn.ProviderUserID != "9001" {
		t.Errorf("connection = %q/%q, want octo/9001", conn.Login, conn.ProviderUserID)
	}

	// Relinking updates the existing row instead of inserting a second one.
	again, err := svc.LinkGitHub(ctx, user.ID, "the-code")
	if err != nil {
		t.Fatalf("LinkGitHub again: %v", err)
	}
	if again.ID != conn.ID {
		t.Errorf("relink created row %d, expected update of %d", again.ID, conn.ID)
	}

	conns, err := svc.GetConnections(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetConnections: %v", err)
	}
	if len(conns) != 1 {
		t.Errorf("got %d connections, want 1", len(conns))
	}

	tok, err := svc.GitHubToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("GitHubToken: %v", err)
	}
	if tok.AccessToken != "gho_test" {
		t.Errorf("token = %q, want gho_test", tok.AccessToken)
	}
}
