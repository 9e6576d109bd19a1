package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"domain passthrough", NewForbidden("nope"), http.StatusForbidden, "FORBIDDEN"},
		{"wrapped domain", fmt.Errorf("ctx: %w", NewNotFound("ticket", nil)), http.StatusNotFound, "NOT_FOUND"},
		{"no rows", pgx.ErrNoRows, http.StatusNotFound, "NOT_FOUND"},
		{"fiber error", fiber.NewError(http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"unknown", errors.New("dial tcp 10.0.0.3:5432: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDomainError(tt.err)
			if got.HTTPStatus != tt.wantStatus {
				t.Errorf("status = %d, want %d", got.HTTPStatus, tt.wantStatus)
			}
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestInternalErrorDoesNotLeakMessage(t *testing.T) {
	got := ToDomainError(errors.New("password=hunter2 rejected by upstream"))
	if got.Message != "internal server error" {
		t.Fatalf("message = %q, want generic message", got.Message)
	}
}

func TestMapErrorNil(t *testing.T) {
	if err := MapError(nil); err != nil {
		t.Fatalf("MapError(nil) = %v, want nil", err)
	}
}
