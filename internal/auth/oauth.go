package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubUser is the subset of the GitHub user payload we keep.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// GitHubOAuth implements the GitHub authorization-code flow: issue an auth
// URL with a one-time state, exchange the callback code for a token, fetch
// the user behind it.
type GitHubOAuth struct {
	config     *oauth2.Config
	apiBaseURL string
	httpClient *http.Client

	statesMu sync.Mutex
	states   map[string]time.Time
}

const oauthStateTTL = 10 * time.Minute

// NewGitHubOAuth creates the GitHub OAuth flow. Empty credentials disable
// it; callers check Enabled.
func NewGitHubOAuth(clientID, clientSecret, redirectURL string) *GitHubOAuth {
	return &GitHubOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: "https://api.github.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		states:     make(map[string]time.Time),
	}
}

// Enabled reports whether GitHub OAuth is configured.
func (g *GitHubOAuth) Enabled() bool {
	return g.config.ClientID != "" && g.config.ClientSecret != ""
}

// AuthURL returns the GitHub authorization URL with a fresh one-time state.
func (g *GitHubOAuth) AuthURL() (url, state string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state = hex.EncodeToString(buf)

	g.statesMu.Lock()
	g.pruneStatesLocked()
	g.states[state] = time.Now().Add(oauthStateTTL)
	g.statesMu.Unlock()

	return g.config.AuthCodeURL(state), state, nil
}

// ConsumeState validates and burns a state value.
func (g *GitHubOAuth) ConsumeState(state string) bool {
	g.statesMu.Lock()
	defer g.statesMu.Unlock()

	expiry, ok := g.states[state]
	if !ok {
		return false
	}
	delete(g.states, state)
	return time.Now().Before(expiry)
}

func (g *GitHubOAuth) pruneStatesLocked() {
	now := time.Now()
	for s, expiry := range g.states {
		if now.After(expiry) {
			delete(g.states, s)
		}
	}
}

// Exchange swaps the callback code for an access token.
func (g *GitHubOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("github token exchange failed: %w", err)
	}
	return token, nil
}

// FetchUser loads the GitHub user behind a token.
func (g *GitHubOAuth) FetchUser(ctx context.Context, token *oauth2.Token) (*GitHubUser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiBaseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch github user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github user fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var user GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode github user: %w", err)
	}
	return &user, nil
}
