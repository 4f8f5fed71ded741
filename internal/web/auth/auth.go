// Package auth issues and verifies the bearer tokens that identify
// actors to the API. Tokens are JWTs tied to a server-side session, so
// logout revokes them before expiry.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/armature-dev/armature/hooks"
	"github.com/armature-dev/armature/internal/web/cache"
)

// ErrInvalidToken is returned when a token fails verification or its
// session has been revoked.
var ErrInvalidToken = errors.New("invalid token")

const sessionPrefix = "session:"

// Service signs and verifies actor tokens.
type Service struct {
	secret   []byte
	ttl      time.Duration
	sessions cache.Cache
}

// NewService creates a token service with the given signing secret and
// token lifetime. Sessions live in the given cache backend.
func NewService(secret string, ttl time.Duration, sessions cache.Cache) *Service {
	return &Service{
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: sessions,
	}
}

// Login issues a token for the actor and records its session.
func (s *Service) Login(ctx context.Context, actor hooks.Actor) (string, error) {
	sid := uuid.New().String()

	payload, err := json.Marshal(actor)
	if err != nil {
		return "", err
	}
	if err := s.sessions.Set(ctx, sessionPrefix+sid, payload, s.ttl); err != nil {
		return "", fmt.Errorf("recording session: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"name": actor.Name,
		"role": actor.Role,
		"sid":  sid,
		"exp":  now.Add(s.ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a token, checks its session is still live, and returns
// the actor it identifies.
func (s *Service) Verify(ctx context.Context, tokenString string) (hooks.Actor, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return hooks.Actor{}, err
	}

	sid, _ := claims["sid"].(string)
	if sid == "" {
		return hooks.Actor{}, ErrInvalidToken
	}
	payload, err := s.sessions.Get(ctx, sessionPrefix+sid)
	if err != nil {
		if cache.IsCacheMiss(err) {
			return hooks.Actor{}, ErrInvalidToken
		}
		return hooks.Actor{}, err
	}

	var actor hooks.Actor
	if err := json.Unmarshal(payload, &actor); err != nil {
		return hooks.Actor{}, err
	}
	if actor.ID == "" {
		return hooks.Actor{}, ErrInvalidToken
	}
	return actor, nil
}

// Logout revokes the token's session. Verifying the same token
// afterwards fails even though its signature is still good.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}

	sid, _ := claims["sid"].(string)
	if sid == "" {
		return ErrInvalidToken
	}
	return s.sessions.Delete(ctx, sessionPrefix+sid)
}

func (s *Service) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify exact signing method to prevent algorithm confusion attacks
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
