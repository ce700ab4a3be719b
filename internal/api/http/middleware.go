package http

import (
	"context"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/observability"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

const requestIDHeader = "X-Request-ID"

// retryAfter is advertised when a collaborator (mailbox, SMTP, workbook) is
// down; the next scheduled cycle usually picks the work up.
const retryAfter = 60 * time.Second

// RegisterMiddlewares attaches request ids, the error envelope, request
// logging and the per-request timeout.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestIDMiddleware())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorEnvelopeMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Locals(requestIDHeader, id)
		return c.Next()
	}
}

// requestTimeoutMiddleware bounds the context handed to passes; a pass
// stops between tickets once it expires.
func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// errorEnvelopeMiddleware renders every error as {"error": {code, message, details}}.
func errorEnvelopeMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}
			if fe, ok := err.(*fiber.Error); ok {
				err = apperrors.NewDomainError(fiberCode(fe.Code), fe.Message, fe.Code, nil)
			}
			domainErr := apperrors.ToDomainError(err)
			metrics.RecordError(c.Path(), c.Method(), domainErr.Code)

			body := fiber.Map{
				"code":    domainErr.Code,
				"message": domainErr.Message,
			}
			if len(domainErr.Details) > 0 {
				body["details"] = domainErr.Details
			}
			fields := []zap.Field{
				zap.String("request_id", requestID(c)),
				zap.String("path", c.Path()),
				zap.String("code", domainErr.Code),
				zap.Error(domainErr),
			}
			switch {
			case domainErr.Code == apperrors.CodeUnavailable:
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Seconds())))
				logger.Warn("collaborator unavailable", fields...)
			case domainErr.HTTPStatus >= 500:
				logger.Error("request failed", fields...)
			case domainErr.Code == apperrors.CodeConflict:
				logger.Info("request conflicted", fields...)
			}
			c.Status(domainErr.HTTPStatus)
			_ = c.JSON(fiber.Map{"error": body})
			err = nil
		}()
		return c.Next()
	}
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return apperrors.CodeNotFound
	case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest:
		return apperrors.CodeValidation
	}
	return apperrors.CodeInternal
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}
