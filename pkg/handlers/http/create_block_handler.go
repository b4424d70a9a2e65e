package http

import (
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/reputation"
)

const defaultBlockSeconds = 3600

type CreateBlockRequest struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (r *CreateBlockRequest) Validate() error {
	if r.IP == "" {
		return fmt.Errorf("ip is required")
	}
	if net.ParseIP(r.IP) == nil {
		return fmt.Errorf("ip %q is not a valid address", r.IP)
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must not be negative")
	}
	return nil
}

type createBlockHandler struct {
	logger *logrus.Logger
	ledger *reputation.Ledger
}

func NewCreateBlockHandler(logger *logrus.Logger, ledger *reputation.Ledger) Handler {
	return &createBlockHandler{logger: logger, ledger: ledger}
}

// Handle creates a manual IP block. Blocking an already blocked IP keeps
// the original expiry.
func (h *createBlockHandler) Handle(c *fiber.Ctx) error {
	var req CreateBlockRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WithError(err).Error("failed to bind create block request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidJsonPayload})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	reason := reputation.Reason(req.Reason)
	if reason == "" {
		reason = reputation.ReasonManual
	}
	seconds := req.DurationSeconds
	if seconds == 0 {
		seconds = defaultBlockSeconds
	}

	if err := h.ledger.Block(c.Context(), req.IP, reason, time.Duration(seconds)*time.Second); err != nil {
		h.logger.WithError(err).WithField("ip", req.IP).Error("failed to create block")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "failed to create block"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ip":               req.IP,
		"reason":           string(reason),
		"duration_seconds": seconds,
	})
}
