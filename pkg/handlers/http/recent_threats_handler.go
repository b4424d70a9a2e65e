package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/domain/events"
)

const defaultThreatLimit = 50

// rawActivityTypes are inputs to the engine rather than decisions; the
// recent-threats view hides them.
var rawActivityTypes = map[string]struct{}{
	events.TypeRequest:        {},
	events.TypeGeneralLogin:   {},
	events.TypeFailedLogin:    {},
	events.TypePaymentAttempt: {},
}

type recentThreatsHandler struct {
	logger *logrus.Logger
	sink   *audit.Sink
}

func NewRecentThreatsHandler(logger *logrus.Logger, sink *audit.Sink) Handler {
	return &recentThreatsHandler{logger: logger, sink: sink}
}

// Handle serves the in-memory recent buffer: decisions and detections,
// newest first, without touching the database.
func (h *recentThreatsHandler) Handle(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultThreatLimit)
	if limit <= 0 {
		limit = defaultThreatLimit
	}

	var threats []events.SecurityEvent
	for _, event := range h.sink.Recent(0) {
		if _, raw := rawActivityTypes[event.EventType]; raw {
			continue
		}
		threats = append(threats, event)
		if len(threats) == limit {
			break
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"threats": threats,
		"count":   len(threats),
	})
}
