package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	apperrors "github.com/openhelpdesk/ai-helpdesk/pkg/util/errorutil"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{"anonymous", nil, fiber.StatusUnauthorized},
		{"wrong role", &Principal{UserID: "u", Role: domain.RoleModerator}, fiber.StatusForbidden},
		{"allowed", &Principal{UserID: "a", Role: domain.RoleAdmin}, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{
				ErrorHandler: func(c *fiber.Ctx, err error) error {
					return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
				},
			})
			app.Get("/", func(c *fiber.Ctx) error {
				if tt.principal != nil {
					c.Locals(principalKey, tt.principal)
				}
				return c.Next()
			}, RequireRole(domain.RoleAdmin), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
