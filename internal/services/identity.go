package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/store"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

type TokenVerifier interface {
	Verify(token string) (*utils.Claims, error)
}

// IdentityService maps identity-provider tokens to user records.
type IdentityService struct {
	tokens TokenVerifier
	users  store.Users
	now    func() time.Time
	log    *zap.Logger
}

func NewIdentityService(tokens TokenVerifier, users store.Users, log *zap.Logger) *IdentityService {
	return &IdentityService{tokens: tokens, users: users, now: time.Now, log: log}
}

// Verify checks the credential without looking up the user.
func (s *IdentityService) Verify(credential string) (*utils.Claims, error) {
	if credential == "" {
		return nil, apperr.Unauthenticated("Authorization header required")
	}
	claims, err := s.tokens.Verify(credential)
	if err != nil {
		return nil, apperr.Unauthenticated("Invalid token")
	}
	return claims, nil
}

// Authenticate resolves a bearer credential to the registered user and its external id.
func (s *IdentityService) Authenticate(ctx context.Context, credential string) (*models.User, string, error) {
	claims, err := s.Verify(credential)
	if err != nil {
		return nil, "", err
	}
	user, err := s.users.ByExternalID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, claims.Subject, apperr.NotFound("User not registered")
		}
		return nil, claims.Subject, apperr.Internal("Failed to load user", err)
	}
	return user, claims.Subject, nil
}

// RequireRole fails with Forbidden unless user has role.
func RequireRole(user *models.User, role models.Role) error {
	if user == nil {
		return apperr.Unauthenticated("Authentication required")
	}
	if user.Role != role {
		return apperr.Forbidden("This action requires the %s role", role)
	}
	return nil
}

type RegisterInput struct {
	ExternalID string
	Email      string
	Name       string
	Role       models.Role
}

// Register creates the user record on first contact. An existing record is
// returned unchanged; created reports which case happened.
func (s *IdentityService) Register(ctx context.Context, claims *utils.Claims, in RegisterInput) (user *models.User, created bool, err error) {
	if in.ExternalID != "" && in.ExternalID != claims.Subject {
		return nil, false, apperr.Forbidden("externalId does not match the authenticated identity")
	}

	existing, err := s.users.ByExternalID(ctx, claims.Subject)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.Internal("Failed to load user", err)
	}

	email := strings.TrimSpace(firstNonEmpty(in.Email, claims.Email))
	if email == "" {
		return nil, false, apperr.Invalid("email is required")
	}
	role := in.Role
	if role == "" {
		role = models.RoleStudent
	}
	if !role.Valid() {
		return nil, false, apperr.Invalid("role must be student or staff")
	}

	now := s.now().UTC()
	u := &models.User{
		ExternalAuthID: claims.Subject,
		Email:          email,
		Name:           strings.TrimSpace(firstNonEmpty(in.Name, claims.Name)),
		Role:           role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent registration of the same identity.
			existing, err := s.users.ByExternalID(ctx, claims.Subject)
			if err != nil {
				return nil, false, apperr.Internal("Failed to load user", err)
			}
			return existing, false, nil
		}
		return nil, false, apperr.Internal("Failed to create user", err)
	}

	s.log.Info("user registered", zap.String("user_id", u.ID.Hex()), zap.String("role", string(u.Role)))
	return u, true, nil
}

// UpdateProfile changes profile fields only. Role is never writable.
func (s *IdentityService) UpdateProfile(ctx context.Context, user *models.User, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("No update fields provided")
	}
	updated, err := s.users.UpdateName(ctx, user.ID, name, s.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("Failed to update user profile", err)
	}
	return updated, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
