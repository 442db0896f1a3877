package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
)

type AuthService struct {
	users  userStore
	tokens *auth.Tokens
	logger *slog.Logger
}

func NewAuthService(users userStore, tokens *auth.Tokens, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, logger: logger}
}

func (s *AuthService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// CreateUserInput is the admin form for staff and customer accounts.
type CreateUserInput struct {
	RegisterInput
	Role models.Role `json:"role" validate:"required,oneof=customer admin delivery"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Register creates a customer account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	user, err := s.createUser(ctx, input, models.RoleCustomer)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	return s.createUser(ctx, input.RegisterInput, input.Role)
}

func (s *AuthService) createUser(ctx context.Context, input RegisterInput, role models.Role) (*models.User, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	user := &models.User{
		Name:         strings.TrimSpace(input.Name),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:        strings.TrimSpace(input.Phone),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.loggerFromContext(ctx).Info("user created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, input.Password) {
		s.loggerFromContext(ctx).Info("login rejected", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *AuthService) Me(ctx context.Context, principal auth.Principal) (*models.User, error) {
	return s.users.GetByID(ctx, principal.UserID)
}

// BootstrapAdmin makes sure the configured admin account exists with the
// configured password. It runs on every start.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, db.ErrNotFound):
		user := &models.User{Name: "Administrator", Email: email, PasswordHash: hash, Role: models.RoleAdmin}
		if err := s.users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		s.loggerFromContext(ctx).Info("admin user created", "user_id", user.ID)
		return nil
	case err != nil:
		return fmt.Errorf("failed to load admin user: %w", err)
	}

	if existing.Role == models.RoleAdmin && auth.CheckPassword(existing.PasswordHash, password) {
		return nil
	}
	if err := s.users.UpdateCredentials(ctx, existing.ID, hash, models.RoleAdmin); err != nil {
		return fmt.Errorf("failed to update admin user: %w", err)
	}
	s.loggerFromContext(ctx).Info("admin user credentials updated", "user_id", existing.ID)
	return nil
}

// Authenticate turns a bearer token into a principal.
func (s *AuthService) Authenticate(token string) (auth.Principal, error) {
	return s.tokens.Parse(token)
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

