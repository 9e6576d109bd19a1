package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/auth"
	"github.com/openhelpdesk/ai-helpdesk/internal/config"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	"github.com/openhelpdesk/ai-helpdesk/internal/skills"
	apperrors "github.com/openhelpdesk/ai-helpdesk/pkg/util/errorutil"
)

// AuthService coordinates registration, login and account administration.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	revoker    auth.Revoker
	bus        events.Bus
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo repository.UserRepository
	// Revoker is nil when logout revocation is disabled.
	Revoker auth.Revoker
	Bus     events.Bus
	Logger  *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		revoker:    deps.Revoker,
		bus:        deps.Bus,
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger,
	}
}

// Session is a user paired with a freshly issued access token.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// Signup creates a role=user account and emits user.signup.
func (s *AuthService) Signup(ctx context.Context, email, password string, skillTags []string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.NewValidationError("invalid email address", map[string]any{"email": email})
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Skills:       skills.Normalize(skillTags),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.EventUserSignup, events.UserSignupPayload{Email: user.Email})
	return s.issue(user)
}

// Login verifies credentials. Unknown email and wrong password are indistinguishable.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.issue(user)
}

// Logout revokes the caller's token until it expires. Without a revoker it is a no-op.
func (s *AuthService) Logout(ctx context.Context, principal *auth.Principal) error {
	if principal == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if s.revoker == nil || principal.TokenID == "" {
		return nil
	}
	if err := s.revoker.Revoke(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

// ListUsers returns every account. Admin only.
func (s *AuthService) ListUsers(ctx context.Context, caller *auth.Principal) ([]domain.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// UpdateUserInput is the admin edit of an account. Empty Skills keeps the current list.
type UpdateUserInput struct {
	Email  string
	Role   domain.Role
	Skills []string
}

// UpdateUser changes role and skills of the account identified by email. Admin only.
func (s *AuthService) UpdateUser(ctx context.Context, caller *auth.Principal, input UpdateUserInput) (*domain.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, apperrors.NewValidationError("email is required", nil)
	}
	if !input.Role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": input.Role})
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
		}
		return nil, apperrors.MapError(err)
	}

	next := skills.Normalize(input.Skills)
	if len(next) == 0 {
		next = user.Skills
	}
	if err := s.users.UpdateRoleSkills(ctx, user.Email, input.Role, next); err != nil {
		return nil, apperrors.MapError(err)
	}
	user.Role = input.Role
	user.Skills = next

	s.logger.Info("user updated",
		zap.String("email", user.Email),
		zap.String("role", string(user.Role)),
		zap.String("by", caller.Email),
	)
	return user, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issue(user *domain.User) (*Session, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, payload any) {
	publishEvent(ctx, s.bus, s.logger, eventType, payload)
}

func validateCredentials(email, password string) error {
	details := map[string]any{}
	if email == "" {
		details["email"] = "required"
	}
	if password == "" {
		details["password"] = "required"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("email and password are required", details)
	}
	return nil
}

func requireAdmin(caller *auth.Principal) error {
	if caller == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if caller.Role != domain.RoleAdmin {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

// publishEvent emits an event after the state change it describes is
// committed. Failures are logged; the caller's request still succeeds.
func publishEvent(ctx context.Context, bus events.Bus, logger *zap.Logger, eventType events.EventType, payload any) {
	if bus == nil {
		return
	}
	event, err := events.NewEvent(eventType, payload)
	if err == nil {
		err = bus.Publish(ctx, event)
	}
	if err != nil {
		logger.Error("publish event", zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}
	logger.Debug("event published", zap.String("event_type", string(eventType)), zap.String("event_id", event.ID))
}
