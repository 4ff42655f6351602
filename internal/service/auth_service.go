package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/classworks/assess-backend/internal/config"
)

// Common auth errors.
var (
	ErrNoActiveLogin      = errors.New("no active login session")
	ErrLoginInvalidated   = errors.New("login session invalidated")
	ErrInvalidTokenClaims = errors.New("invalid token claims")
)

// Claims extends JWT standard claims with the student identity.
type Claims struct {
	jwt.RegisteredClaims
	StudentKey string `json:"student_key"`
}

// AuthService issues and validates student JWTs. Each token carries a JTI
// that is registered in Redis; only the most recently issued token for a
// student is accepted, so a login from a second device supersedes the first.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb}
}

// GenerateStudentToken creates a JWT for a student and registers its JTI as
// the student's active login. Any previously issued token stops validating.
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentKey string) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   studentKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		StudentKey: studentKey,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	// Register the login with the same expiry as the JWT.
	sessionKey := config.CacheKey.StudentSessionKey(studentKey)
	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store login session: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.StudentKey == "" {
		return nil, ErrInvalidTokenClaims
	}

	return claims, nil
}

// ValidateStudentLogin checks that the token's JTI matches the student's
// active login in Redis.
func (s *AuthService) ValidateStudentLogin(ctx context.Context, studentKey, jti string) error {
	sessionKey := config.CacheKey.StudentSessionKey(studentKey)
	stored, err := s.rdb.Get(ctx, sessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoActiveLogin
		}
		return fmt.Errorf("check login session: %w", err)
	}
	if stored != jti {
		return ErrLoginInvalidated
	}
	return nil
}

// ResetStudentLogin removes a student's active login, invalidating every
// outstanding token.
func (s *AuthService) ResetStudentLogin(ctx context.Context, studentKey string) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentSessionKey(studentKey)).Err()
}
