package verify

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAttestationTTL bounds how long a verification attestation stays
// valid. Results are point-in-time; partners should not trust a stale token.
const DefaultAttestationTTL = 30 * time.Second

// AttestationClaims are the signed claims carried by a verification
// attestation token.
type AttestationClaims struct {
	SessionID  string  `json:"sid"`
	AnonID     string  `json:"aid"`
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence,omitempty"`
	jwt.RegisteredClaims
}

// AttestationSigner signs and verifies attestation tokens with an HMAC-SHA256
// shared secret. The clock is injected so expiry behavior is testable.
type AttestationSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAttestationSigner creates a signer. A non-positive ttl falls back to
// DefaultAttestationTTL; a nil clock defaults to time.Now.
func NewAttestationSigner(secret []byte, ttl time.Duration, now func() time.Time) (*AttestationSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("verify: attestation secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultAttestationTTL
	}
	if now == nil {
		now = time.Now
	}
	return &AttestationSigner{secret: secret, ttl: ttl, now: now}, nil
}

// Sign produces a signed attestation token for a verification outcome.
func (s *AttestationSigner) Sign(sessionID, anonID string, verified bool, confidence float64) (string, error) {
	issued := s.now()
	claims := AttestationClaims{
		SessionID:  sessionID,
		AnonID:     anonID,
		Verified:   verified,
		Confidence: confidence,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("verify: sign attestation: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an attestation token. It rejects expired
// tokens and any signing method other than HMAC-SHA256.
func (s *AttestationSigner) Verify(tokenStr string) (*AttestationClaims, error) {
	claims := &AttestationClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("verify: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("verify: parse attestation: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("verify: invalid attestation token")
	}
	return claims, nil
}
