package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/openhelpdesk/ai-helpdesk/internal/api/dto"
	"github.com/openhelpdesk/ai-helpdesk/internal/auth"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/service"
	apperrors "github.com/openhelpdesk/ai-helpdesk/pkg/util/errorutil"
)

// UsersHandler exposes the /auth endpoints.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Signup handles POST /auth/signup.
func (h *UsersHandler) Signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	session, err := h.auth.Signup(c.UserContext(), req.Email, req.Password, req.Skills)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(authResponse(session))
}

// Login handles POST /auth/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	session, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(authResponse(session))
}

// Logout handles POST /auth/logout.
func (h *UsersHandler) Logout(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	if err := h.auth.Logout(c.UserContext(), principal); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// UpdateUser handles POST /auth/update-user.
func (h *UsersHandler) UpdateUser(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.auth.UpdateUser(c.UserContext(), principal, service.UpdateUserInput{
		Email:  req.Email,
		Role:   domain.Role(req.Role),
		Skills: req.Skills,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message": "User updated successfully",
		"user":    dto.NewUserResponse(user),
	})
}

// ListUsers handles GET /auth/users.
func (h *UsersHandler) ListUsers(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	users, err := h.auth.ListUsers(c.UserContext(), principal)
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(items)
}

func authResponse(s *service.Session) dto.AuthResponse {
	return dto.AuthResponse{
		User:      dto.NewUserResponse(s.User),
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
	}
}
