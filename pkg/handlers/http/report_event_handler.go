package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/domain/events"
)

// ReportEventRequest is activity reported by the protected application:
// login attempts, payments, anything the detectors and the scorer should
// see.
type ReportEventRequest struct {
	UserID      string         `json:"user_id"`
	EventType   string         `json:"event_type"`
	IP          string         `json:"ip"`
	UserAgent   string         `json:"user_agent"`
	CountryCode string         `json:"country_code"`
	Details     events.JSONMap `json:"details"`
}

func (r *ReportEventRequest) Validate() error {
	if r.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if r.UserID == "" && r.IP == "" {
		return fmt.Errorf("user_id or ip is required")
	}
	return nil
}

type reportEventHandler struct {
	logger *logrus.Logger
	sink   *audit.Sink
}

func NewReportEventHandler(logger *logrus.Logger, sink *audit.Sink) Handler {
	return &reportEventHandler{logger: logger, sink: sink}
}

func (h *reportEventHandler) Handle(c *fiber.Ctx) error {
	var req ReportEventRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WithError(err).Error("failed to bind report event request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidJsonPayload})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id := h.sink.Append(c.Context(), &events.SecurityEvent{
		UserID:      req.UserID,
		EventType:   req.EventType,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		CountryCode: req.CountryCode,
		Details:     req.Details,
	})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id})
}
