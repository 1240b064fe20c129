package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the claims carried by a locally signed development token.
type Claims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agent_id"`
}

// Signer mints Ed25519 JWTs from a local private key. Intended for
// development backends that trust a shared key; production deployments use
// Exchange or a StaticToken from the session layer.
type Signer struct {
	privateKey ed25519.PrivateKey
	agentID    string
	audience   string
	ttl        time.Duration
	margin     time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSigner wraps an in-memory key.
func NewSigner(key ed25519.PrivateKey, agentID string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		privateKey: key,
		agentID:    agentID,
		audience:   "workbench",
		ttl:        ttl,
		margin:     30 * time.Second,
	}
}

// LoadSigner reads a PKCS#8 PEM Ed25519 private key from path.
func LoadSigner(path, agentID string, ttl time.Duration) (*Signer, error) {
	privPEM, err := os.ReadFile(path) //nolint:gosec // path comes from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}
	return NewSigner(edPriv, agentID, ttl), nil
}

// Token returns a cached token or signs a new one.
func (s *Signer) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.token != "" && now.Before(s.expiresAt.Add(-s.margin)) {
		return s.token, nil
	}

	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.agentID,
			Issuer:    "workbench-client",
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		AgentID: s.agentID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	s.token = signed
	s.expiresAt = exp
	return signed, nil
}
