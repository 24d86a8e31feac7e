// Package githubauth implements the GitHub OAuth web flow: building the
// authorization URL, exchanging the callback code for an access token, and
// fetching the signed-in user's profile and primary email.
package githubauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	authorizeURL = "https://github.com/login/oauth/authorize"
	tokenURL     = "https://github.com/login/oauth/access_token"
	apiBaseURL   = "https://api.github.com"
)

type Service struct {
	clientID     string
	clientSecret string
	redirectURL  string
	httpClient   *http.Client
	apiBase      string
	tokenBase    string
}

// GitHubUser is the subset of the GitHub user payload we keep.
type GitHubUser struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	AvatarURL *string `json:"avatar_url"`
	Email     *string `json:"email"`
}

func New(clientID, clientSecret, redirectURL string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		apiBase:      apiBaseURL,
		tokenBase:    tokenURL,
	}
}

// NewWithEndpoints is used by tests to point the service at a stub server.
func NewWithEndpoints(clientID, clientSecret, redirectURL, tokenBase, apiBase string) *Service {
	s := New(clientID, clientSecret, redirectURL)
	s.tokenBase = tokenBase
	s.apiBase = apiBase
	return s
}

// Configured reports whether OAuth credentials are present.
func (s *Service) Configured() bool {
	return s.clientID != "" && s.clientSecret != ""
}

// AuthorizationURL builds the URL the browser is sent to for consent.
func (s *Service) AuthorizationURL(state string) string {
	query := url.Values{}
	query.Set("client_id", s.clientID)
	query.Set("redirect_uri", s.redirectURL)
	query.Set("scope", "read:user user:email")
	query.Set("state", state)
	return authorizeURL + "?" + query.Encode()
}

// ExchangeCode trades the callback code for an access token.
func (s *Service) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", s.redirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenBase, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("exchange code: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("exchange code: %s: %s", payload.Error, payload.ErrorDescription)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("exchange code: empty access token")
	}
	return payload.AccessToken, nil
}

// FetchUser loads the authenticated user, filling in the primary email from
// the emails endpoint when the profile email is private.
func (s *Service) FetchUser(ctx context.Context, accessToken string) (GitHubUser, error) {
	var user GitHubUser
	if err := s.apiGet(ctx, accessToken, "/user", &user); err != nil {
		return GitHubUser{}, err
	}
	if user.Login == "" {
		return GitHubUser{}, fmt.Errorf("fetch user: empty login")
	}

	if user.Email == nil || *user.Email == "" {
		if email, err := s.fetchPrimaryEmail(ctx, accessToken); err == nil && email != "" {
			user.Email = &email
		}
	}
	return user, nil
}

func (s *Service) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := s.apiGet(ctx, accessToken, "/user/emails", &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func (s *Service) apiGet(ctx context.Context, accessToken, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("build api request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github api %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github api %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode github api %s: %w", path, err)
	}
	return nil
}
