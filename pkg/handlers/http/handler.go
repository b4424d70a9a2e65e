package http

import "github.com/gofiber/fiber/v2"

const ErrInvalidJsonPayload = "invalid json payload"

type Handler interface {
	Handle(c *fiber.Ctx) error
}

// HandlerTransport carries the operator API handlers into the router.
type HandlerTransport struct {
	ListEventsHandler    Handler
	ReportEventHandler   Handler
	CreateBlockHandler   Handler
	RecentThreatsHandler Handler
}
