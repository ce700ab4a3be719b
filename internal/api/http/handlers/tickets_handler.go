package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ShapArt/outlook-exporter/internal/api/dto"
	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	"github.com/ShapArt/outlook-exporter/internal/service"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

const maxPageSize = 200

// TicketsHandler serves read-only ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter, page, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	page.Count = len(items)
	return c.JSON(fiber.Map{"data": items, "meta": page})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketDetailResponse{
		TicketResponse: dto.NewTicketResponse(ticket),
		Body:           ticket.Body,
	}})
}

// ListEvents GET /tickets/:id/events.
func (h *TicketsHandler) ListEvents(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	evs, err := h.service.ListEvents(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewEventResponses(evs)})
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func parseTicketQuery(c *fiber.Ctx) (repository.TicketFilter, dto.PageMeta, error) {
	filter := repository.TicketFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			status, ok := domain.ParseTicketStatus(part)
			if !ok {
				return filter, dto.PageMeta{}, apperrors.NewValidationError("unknown status", map[string]any{"status": part})
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			prio, ok := domain.ParseTicketPriority(part)
			if !ok {
				return filter, dto.PageMeta{}, apperrors.NewValidationError("unknown priority", map[string]any{"priority": part})
			}
			filter.Priorities = append(filter.Priorities, prio)
		}
	}
	if owner := strings.ToLower(strings.TrimSpace(c.Query("responsible"))); owner != "" {
		filter.Responsible = &owner
	}
	if term := strings.TrimSpace(c.Query("q")); term != "" {
		filter.SearchTerm = &term
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 50)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, dto.PageMeta{Page: page, PageSize: pageSize}, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
