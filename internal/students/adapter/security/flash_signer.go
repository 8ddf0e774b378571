package security

import (
	"errors"
	"time"

	"students-registry/internal/students/config"

	"github.com/golang-jwt/jwt/v5"
)

const flashIssuer = "students-registry"

var (
	ErrFlashInvalid = errors.New("flash token is invalid")
	ErrFlashExpired = errors.New("flash token is expired")
)

// Flash categories understood by the root page.
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// FlashClaims carries a one-shot message from a write to the next page view.
type FlashClaims struct {
	Message  string `json:"msg"`
	Category string `json:"cat"`
	jwt.RegisteredClaims
}

// FlashSigner signs and verifies flash messages with the application secret (HS256).
type FlashSigner struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewFlashSigner creates a signer from the application config.
func NewFlashSigner(cfg *config.Config) (*FlashSigner, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key cannot be empty")
	}
	if cfg.FlashTTL <= 0 {
		return nil, errors.New("flash TTL must be positive")
	}
	return &FlashSigner{
		secretKey: []byte(cfg.SecretKey),
		ttl:       cfg.FlashTTL,
		now:       time.Now,
	}, nil
}

// TTL is how long a signed flash stays valid.
func (s *FlashSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns a compact token holding message.
func (s *FlashSigner) Sign(message, category string) (string, error) {
	now := s.now()
	claims := &FlashClaims{
		Message:  message,
		Category: category,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    flashIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// Verify parses token and returns its claims when the signature and expiry check out.
func (s *FlashSigner) Verify(token string) (*FlashClaims, error) {
	if token == "" {
		return nil, ErrFlashInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &FlashClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrFlashInvalid
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(flashIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrFlashExpired
		}
		return nil, ErrFlashInvalid
	}

	claims, ok := parsed.Claims.(*FlashClaims)
	if !ok || !parsed.Valid {
		return nil, ErrFlashInvalid
	}
	return claims, nil
}
