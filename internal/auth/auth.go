// Package auth issues and verifies API keys and admin tokens.
//
// API keys look like mfk_<prefix>_<secret>. The prefix is stored in clear
// for lookup; the whole key is only kept as a bcrypt hash.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mediafetch/backend/internal/db"
)

const (
	KeyPrefix        = "mfk_"
	AdminTokenExpiry = 12 * time.Hour
	BcryptCost       = 12
	verifyCacheTTL   = time.Minute
	prefixLen        = 8
	secretLen        = 32
)

var (
	ErrInvalidKey   = errors.New("invalid api key")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNotAdmin     = errors.New("admin role required")
)

// KeyStore persists API keys
type KeyStore interface {
	Create(ctx context.Context, key *db.APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (*db.APIKey, error)
	List(ctx context.Context) ([]*db.APIKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID) error
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	keys       KeyStore
	jwtSecret  []byte
	bcryptCost int

	mu       sync.Mutex
	verified map[string]verifiedKey
	now      func() time.Time
}

type verifiedKey struct {
	key     *db.APIKey
	expires time.Time
}

func NewService(keys KeyStore, jwtSecret string) *Service {
	return &Service{
		keys:       keys,
		jwtSecret:  []byte(jwtSecret),
		bcryptCost: BcryptCost,
		verified:   make(map[string]verifiedKey),
		now:        time.Now,
	}
}

// CreateKey generates a new key and returns its plaintext form once
func (s *Service) CreateKey(ctx context.Context, name string) (string, *db.APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, fmt.Errorf("key name is required")
	}

	prefix, err := randomHex(prefixLen / 2)
	if err != nil {
		return "", nil, err
	}
	secret, err := randomHex(secretLen / 2)
	if err != nil {
		return "", nil, err
	}
	plaintext := KeyPrefix + prefix + "_" + secret

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.bcryptCost)
	if err != nil {
		return "", nil, err
	}

	key := &db.APIKey{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		Prefix:    prefix,
		KeyHash:   string(hash),
		CreatedAt: s.now(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// VerifyKey checks a presented key. Successful checks are cached briefly so
// that bcrypt does not run on every request.
func (s *Service) VerifyKey(ctx context.Context, raw string) (*db.APIKey, error) {
	prefix, ok := parseKey(raw)
	if !ok {
		return nil, ErrInvalidKey
	}

	cacheKey := hashKey(raw)
	s.mu.Lock()
	if v, ok := s.verified[cacheKey]; ok && s.now().Before(v.expires) {
		s.mu.Unlock()
		return v.key, nil
	}
	s.mu.Unlock()

	key, err := s.keys.GetByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, db.ErrAPIKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	if key.Revoked {
		return nil, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)); err != nil {
		return nil, ErrInvalidKey
	}

	if err := s.keys.TouchLastUsed(ctx, key.ID); err != nil {
		log.Warn(ctx, "failed to update key usage", map[string]any{"key_id": key.ID.String(), "error": err.Error()})
	}

	s.mu.Lock()
	s.verified[cacheKey] = verifiedKey{key: key, expires: s.now().Add(verifyCacheTTL)}
	s.mu.Unlock()
	return key, nil
}

func (s *Service) ListKeys(ctx context.Context) ([]*db.APIKey, error) {
	return s.keys.List(ctx)
}

// RevokeKey revokes a key and forgets any cached verification of it
func (s *Service) RevokeKey(ctx context.Context, id uuid.UUID) error {
	if err := s.keys.Revoke(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range s.verified {
		if v.key.ID == id {
			delete(s.verified, k)
		}
	}
	s.mu.Unlock()
	return nil
}

// IssueAdminToken signs an admin JWT for subject
func (s *Service) IssueAdminToken(subject string, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = AdminTokenExpiry
	}
	now := s.now()
	claims := &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "mediafetch",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) ValidateAdminToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != "admin" {
		return nil, ErrNotAdmin
	}

	return claims, nil
}

// parseKey validates the key shape and returns its prefix
func parseKey(raw string) (string, bool) {
	rest, ok := strings.CutPrefix(raw, KeyPrefix)
	if !ok {
		return "", false
	}
	prefix, secret, ok := strings.Cut(rest, "_")
	if !ok || len(prefix) != prefixLen || len(secret) != secretLen {
		return "", false
	}
	if !isHex(prefix) || !isHex(secret) {
		return "", false
	}
	return prefix, true
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashKey(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])
}
