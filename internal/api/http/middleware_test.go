package http

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

func TestErrorEnvelope(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	app.Get("/unavailable", func(c *fiber.Ctx) error {
		return apperrors.NewCollaboratorUnavailable("mailbox", 2, errors.New("spool not mounted"))
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})

	cases := []struct {
		path       string
		status     int
		code       string
		retryAfter string
	}{
		{"/unavailable", 503, apperrors.CodeUnavailable, "60"},
		{"/panic", 500, apperrors.CodeInternal, ""},
		{"/nowhere", 404, apperrors.CodeNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			req.Header.Set(requestIDHeader, "req-1")
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if got := resp.Header.Get(requestIDHeader); got != "req-1" {
				t.Fatalf("request id = %q", got)
			}
			if got := resp.Header.Get("Retry-After"); got != tc.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tc.retryAfter)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", body.Error.Code, tc.code)
			}
		})
	}
}
