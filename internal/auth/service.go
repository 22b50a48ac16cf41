package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/citychat/internal/store"
)

var (
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Token is an issued bearer token.
type Token struct {
	Value     string
	User      *store.User
	ExpiresAt time.Time
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
	now       func() time.Time
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
		now:       time.Now,
	}
}

// IssueToken creates the user on first use and returns a token for it.
// The development backend has no passwords.
func (s *Service) IssueToken(ctx context.Context, username, displayName string) (*Token, error) {
	username = strings.TrimSpace(username)
	if len(username) < 2 || len(username) > 32 || strings.ContainsAny(username, " \t\n/") {
		return nil, ErrInvalidUsername
	}

	user, err := s.store.UpsertUser(ctx, username, strings.TrimSpace(displayName))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	value, expires, err := GenerateToken(s.jwtConfig, user.ID, user.Username, s.now())
	if err != nil {
		return nil, err
	}
	return &Token{Value: value, User: user, ExpiresAt: expires}, nil
}

// ValidateToken validates a token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Authenticate validates a token and loads its user.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*store.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
	}
	return user, nil
}
