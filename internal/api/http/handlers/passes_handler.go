package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ShapArt/outlook-exporter/internal/api/dto"
	"github.com/ShapArt/outlook-exporter/internal/service"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// PassesHandler triggers tracker passes on demand.
type PassesHandler struct {
	tracker *service.Tracker
}

// NewPassesHandler constructs handler.
func NewPassesHandler(tracker *service.Tracker) *PassesHandler {
	return &PassesHandler{tracker: tracker}
}

// Ingest POST /passes/ingest.
func (h *PassesHandler) Ingest(c *fiber.Ctx) error {
	since, err := h.since(c)
	if err != nil {
		return err
	}
	summary, err := h.tracker.RunIngest(c.UserContext(), since)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Recalc POST /passes/recalc.
func (h *PassesHandler) Recalc(c *fiber.Ctx) error {
	summary, err := h.tracker.RecalcOpen(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Reminders POST /passes/reminders.
func (h *PassesHandler) Reminders(c *fiber.Ctx) error {
	decisions, err := h.tracker.SendOverdue(c.UserContext())
	if err != nil {
		return err
	}
	if decisions == nil {
		decisions = []service.ReminderDecision{}
	}
	return c.JSON(fiber.Map{"data": decisions})
}

// Responses POST /passes/responses.
func (h *PassesHandler) Responses(c *fiber.Ctx) error {
	since, err := h.since(c)
	if err != nil {
		return err
	}
	summary, err := h.tracker.ProcessResponses(c.UserContext(), since)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Reconcile POST /passes/reconcile. Rows in the body are reconciled
// directly; an empty body reads the workbook.
func (h *PassesHandler) Reconcile(c *fiber.Ctx) error {
	var (
		result service.ReconcileResult
		err    error
	)
	if len(c.Body()) == 0 {
		result, err = h.tracker.SyncFromSpreadsheet(c.UserContext())
	} else {
		var req dto.ReconcileRequest
		if perr := c.BodyParser(&req); perr != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
		result, err = h.tracker.Reconcile(c.UserContext(), req.Rows)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Export POST /passes/export.
func (h *PassesHandler) Export(c *fiber.Ctx) error {
	result, err := h.tracker.ExportSnapshot(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Cycle POST /passes/cycle. A partial failure still returns the report.
func (h *PassesHandler) Cycle(c *fiber.Ctx) error {
	since, err := h.since(c)
	if err != nil {
		return err
	}
	report, err := h.tracker.RunCycle(c.UserContext(), since)
	if err != nil {
		domainErr := apperrors.ToDomainError(err)
		return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{
			"data": report,
			"error": fiber.Map{
				"code":    domainErr.Code,
				"message": domainErr.Message,
			},
		})
	}
	return c.JSON(fiber.Map{"data": report})
}

// since reads the mail window start from the query or the body, falling
// back to the configured lookback.
func (h *PassesHandler) since(c *fiber.Ctx) (time.Time, error) {
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, apperrors.NewValidationError("since must be RFC3339", map[string]any{"since": raw})
		}
		return t, nil
	}
	if len(c.Body()) > 0 {
		var req dto.PassRequest
		if err := c.BodyParser(&req); err != nil {
			return time.Time{}, apperrors.NewValidationError("invalid payload", nil)
		}
		if req.Since != nil {
			return *req.Since, nil
		}
	}
	return h.tracker.DefaultSince(), nil
}
