package session

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the descriptor token minted for a session once classified, so a
// caller (the MCP surface, a CLI invocation) can present proof of its
// interactive/non-interactive status without the Gate or Override Manager
// re-deriving it from the raw identifier on every call.
type Claims struct {
	jwt.RegisteredClaims
	SessionID   string `json:"session_id"`
	Interactive bool   `json:"interactive"`
}

// Manager issues and validates session descriptor tokens using Ed25519
// (EdDSA) signing, loading keys from PEM files the same way an
// agent-authentication JWT manager would.
type Manager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
}

// NewManager builds a Manager from PEM key files. If both paths are empty,
// an ephemeral key pair is generated — usable for local development and
// tests, never for a production deployment sharing tokens across restarts.
func NewManager(privateKeyPath, publicKeyPath string, ttl time.Duration) (*Manager, error) {
	if privateKeyPath == "" && publicKeyPath == "" {
		slog.Warn("session: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("session: generate key pair: %w", err)
		}
		return &Manager{privateKey: priv, publicKey: pub, ttl: ttl}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("session: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("session: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("session: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("session: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("session: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("session: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("session: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("session: public key is not Ed25519")
	}

	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("session: public key does not match private key")
	}

	return &Manager{privateKey: edPriv, publicKey: edPub, ttl: ttl}, nil
}

// Issue mints a descriptor token for sessionID, classifying it via
// IsInteractive.
func (m *Manager) Issue(sessionID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    "cortex",
			Audience:  jwt.ClaimStrings{"cortex"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		SessionID:   sessionID,
		Interactive: IsInteractive(sessionID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate parses and verifies a descriptor token, returning its claims.
func (m *Manager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("session: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience("cortex"),
	)
	if err != nil {
		return nil, fmt.Errorf("session: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("session: invalid token claims")
	}
	if claims.Issuer != "cortex" {
		return nil, fmt.Errorf("session: invalid issuer: %s", claims.Issuer)
	}
	return claims, nil
}
