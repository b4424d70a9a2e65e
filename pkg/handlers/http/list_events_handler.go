package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/domain/events"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type listEventsHandler struct {
	logger *logrus.Logger
	sink   *audit.Sink
}

func NewListEventsHandler(logger *logrus.Logger, sink *audit.Sink) Handler {
	return &listEventsHandler{logger: logger, sink: sink}
}

// Handle queries the durable audit trail. Filters: user_id, event_type,
// ip, since (RFC3339), limit.
func (h *listEventsHandler) Handle(c *fiber.Ctx) error {
	filter := events.Filter{
		UserID:    c.Query("user_id"),
		EventType: c.Query("event_type"),
		IP:        c.Query("ip"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be RFC3339"})
		}
		filter.Since = since
	}

	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 || limit > maxEventLimit {
		limit = defaultEventLimit
	}

	result, err := h.sink.Query(c.Context(), filter, limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to query security events")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to query events"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"events": result,
		"count":  len(result),
	})
}
