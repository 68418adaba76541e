package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pickup-service/internal/auth"
	"pickup-service/internal/store"
	"pickup-service/internal/util"

	"go.uber.org/zap"
)

// dummyHash is compared against when the username does not exist
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z8o4fG1pRZqE0V0lqzWZB2Gm"

// StaffIdentity is who performed a staff request
type StaffIdentity struct {
	Username string
	StoreID  string
	Role     string
	// Shared is set when the request used the legacy shared password
	Shared bool
}

// LoginResponse carries a signed staff token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	StoreID   string    `json:"store_id"`
	Role      string    `json:"role"`
}

// StaffAuthService authenticates staff by per-user token or by the shared password
type StaffAuthService struct {
	store        StaffStore
	tokens       *auth.TokenIssuer
	sharedSecret string
	now          Clock
	logger       *zap.Logger
}

// NewStaffAuthService creates the staff authenticator. tokens may be nil to disable login,
// sharedSecret may be empty to disable the shared password.
func NewStaffAuthService(store StaffStore, tokens *auth.TokenIssuer, sharedSecret string) *StaffAuthService {
	return &StaffAuthService{
		store:        store,
		tokens:       tokens,
		sharedSecret: sharedSecret,
		now:          time.Now,
		logger:       util.GetLogger(),
	}
}

// Login checks a staff member's password and issues a token
func (s *StaffAuthService) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	ctx, span := util.StartSpan(ctx, "StaffAuthService.Login")
	defer span.End()

	if s.tokens == nil {
		return nil, AuthError("Staff login is not enabled")
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ValidationError("username and password are required")
	}

	user, err := s.store.GetStaffUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load staff user: %w", err)
		}
		auth.CheckPassword(dummyHash, password)
		return nil, AuthError("Invalid credentials")
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Info("Staff login failed", zap.String("username", username))
		return nil, AuthError("Invalid credentials")
	}

	token, expiresAt, err := s.tokens.Issue(user, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Staff logged in", zap.String("username", username), zap.String("store_id", user.StoreID))
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, StoreID: user.StoreID, Role: user.Role}, nil
}

// Authenticate accepts either a bearer token or the shared staff password
func (s *StaffAuthService) Authenticate(bearerToken, sharedPassword string) (*StaffIdentity, error) {
	if bearerToken != "" && s.tokens != nil {
		claims, err := s.tokens.Parse(bearerToken)
		if err == nil {
			return &StaffIdentity{Username: claims.Username, StoreID: claims.StoreID, Role: claims.Role}, nil
		}
	}
	if sharedPassword != "" && auth.SharedSecretMatch(s.sharedSecret, sharedPassword) {
		return &StaffIdentity{Username: "shared", Shared: true}, nil
	}
	return nil, AuthError("Unauthorized")
}

// CanAccessStore reports whether the identity may act on storeID. Shared-password
// sessions are not scoped to a store.
func (id *StaffIdentity) CanAccessStore(storeID string) bool {
	return id.Shared || id.StoreID == storeID
}
