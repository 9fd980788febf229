// Package credential mints and parses the short-lived scan credentials
// rendered as QR codes on the ticket confirmation view.
//
// A credential is a compact HS256 JWT. The signature is checked over the raw
// segments before anything is decoded, so a tampered payload reports an
// invalid signature rather than yielding another ticket's claims. Expiry is
// left to the caller, which owns the clock.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"ticket-checkin/internal/status"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultTTL is how long a freshly issued credential is accepted.
	DefaultTTL = 30 * time.Second

	// MinSecretSize is the minimum root secret length in bytes.
	MinSecretSize = 32

	keyInfo = "ticket-scan-credential:v1"
)

var signingMethod = jwt.SigningMethodHS256

// Claims is the signed body of a scan credential.
type Claims struct {
	Code        string `json:"code"`
	IssuedAtMs  int64  `json:"iat_ms"`
	ExpiresAtMs int64  `json:"exp_ms"`
	jwt.RegisteredClaims
}

func (c *Claims) TicketID() string { return c.Subject }

func (c *Claims) Nonce() string { return c.ID }

func (c *Claims) IssuedAt() time.Time { return time.UnixMilli(c.IssuedAtMs) }

func (c *Claims) ExpiresAt() time.Time { return time.UnixMilli(c.ExpiresAtMs) }

// ExpiredAt reports whether the credential is no longer accepted at now.
func (c *Claims) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// Credential is a signed payload ready for QR encoding.
type Credential struct {
	Payload   string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// NewSigner derives the MAC key from secret and returns a signer that mints
// credentials valid for ttl.
func NewSigner(secret []byte, issuer string, ttl time.Duration) (*Signer, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("credential: signing secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}
	if ttl <= 0 {
		return nil, errors.New("credential: ttl must be positive")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("credential: derive signing key: %w", err)
	}

	return &Signer{
		key:    key,
		issuer: issuer,
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign binds ticketID and code to a fresh nonce and issue time.
func (s *Signer) Sign(ticketID, code string, now time.Time) (*Credential, error) {
	if ticketID == "" || code == "" {
		return nil, errors.New("credential: ticket id and confirmation code are required")
	}

	issuedAt := now.Truncate(time.Millisecond)
	expiresAt := issuedAt.Add(s.ttl)
	nonce := uuid.NewString()

	claims := &Claims{
		Code:        code,
		IssuedAtMs:  issuedAt.UnixMilli(),
		ExpiresAtMs: expiresAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  s.issuer,
			Subject: ticketID,
			ID:      nonce,
		},
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	// keep the QR payload short
	delete(token.Header, "typ")

	payload, err := token.SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("credential: sign: %w", err)
	}

	return &Credential{
		Payload:   payload,
		Nonce:     nonce,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Parse checks structure, then signature, then decodes claims. It returns
// status.ErrMalformedPayload or status.ErrInvalidSignature on failure.
func (s *Signer) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, status.ErrMalformedPayload
	}
	for _, part := range parts {
		if part == "" {
			return nil, status.ErrMalformedPayload
		}
	}

	if !s.signatureMatches(parts[0]+"."+parts[1], parts[2]) {
		return nil, status.ErrInvalidSignature
	}

	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrMalformedPayload, err)
	}

	if claims.Subject == "" || claims.Code == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing binding claims", status.ErrMalformedPayload)
	}
	if claims.ExpiresAtMs <= claims.IssuedAtMs {
		return nil, fmt.Errorf("%w: expiry precedes issue time", status.ErrMalformedPayload)
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", status.ErrMalformedPayload, claims.Issuer)
	}

	return claims, nil
}

func (s *Signer) signatureMatches(signingString, signature string) bool {
	sig, err := signingMethod.Sign(signingString, s.key)
	if err != nil {
		return false
	}
	expected := base64.RawURLEncoding.EncodeToString(sig)
	return hmac.Equal([]byte(expected), []byte(signature))
}
