// Package auth supplies the bearer credential attached to every workbench request.
//
// Identity and session resolution belong to the backend. This package only
// obtains a token from one of three sources and refreshes it before expiry:
// a static token, an API-key exchange against /auth/token, or a locally
// signed Ed25519 JWT for development backends.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource returns a bearer token valid for at least the next request.
// Implementations must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ErrNoCredential is returned when no token can be produced.
var ErrNoCredential = errors.New("auth: no credential configured")

// StaticToken is a fixed bearer token supplied by the embedding application.
type StaticToken string

// Token returns the token unchanged.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// The client cannot verify backend-issued tokens; the claim is only used to
// warn about credentials that are already stale.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Exchange trades an API key for a short-lived JWT and caches it until
// shortly before it expires.
type Exchange struct {
	baseURL string
	agentID string
	apiKey  string
	client  *http.Client
	margin  time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewExchange creates an API-key token source against baseURL.
func NewExchange(baseURL, agentID, apiKey string, client *http.Client) *Exchange {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchange{
		baseURL: baseURL,
		agentID: agentID,
		apiKey:  apiKey,
		client:  client,
		margin:  30 * time.Second,
	}
}

// Token returns the cached token or refreshes it.
func (e *Exchange) Token(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" && time.Now().Before(e.expiresAt.Add(-e.margin)) {
		return e.token, nil
	}

	if err := e.refresh(ctx); err != nil {
		return "", err
	}
	return e.token, nil
}

type exchangeRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

type exchangeResponseEnvelope struct {
	Data struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
}

func (e *Exchange) refresh(ctx context.Context) error {
	body, err := json.Marshal(exchangeRequest{AgentID: e.agentID, APIKey: e.apiKey})
	if err != nil {
		return fmt.Errorf("auth: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: token exchange failed with status %d", resp.StatusCode)
	}

	var envelope exchangeResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("auth: decode token response: %w", err)
	}
	if envelope.Data.Token == "" {
		return fmt.Errorf("auth: token exchange returned an empty token")
	}

	e.token = envelope.Data.Token
	e.expiresAt = envelope.Data.ExpiresAt
	return nil
}
