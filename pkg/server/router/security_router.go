package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	handlers "github.com/guardline/abusegate/pkg/handlers/http"
	"github.com/guardline/abusegate/pkg/middleware"
)

var ErrMissingHandler = errors.New("security router: missing handler")

// securityRouter wires the operator API and the request pipeline. Operator
// routes are registered first and therefore bypass the pipeline; every
// other path runs the full security chain and, when clean, answers with a
// pass-through verdict so a fronting proxy can forward the request.
type securityRouter struct {
	securityMiddleware middleware.Middleware
	handlerTransport   handlers.HandlerTransport
}

func NewSecurityRouter(
	securityMiddleware middleware.Middleware,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &securityRouter{
		securityMiddleware: securityMiddleware,
		handlerTransport:   handlerTransport,
	}
}

func (r *securityRouter) BuildRoutes(router *fiber.App) error {
	t := r.handlerTransport
	if t.ListEventsHandler == nil || t.ReportEventHandler == nil ||
		t.CreateBlockHandler == nil || t.RecentThreatsHandler == nil {
		return ErrMissingHandler
	}

	v1 := router.Group("/api/v1")
	{
		security := v1.Group("/security")
		{
			security.Get("/events", t.ListEventsHandler.Handle)
			security.Post("/events", t.ReportEventHandler.Handle)
			security.Post("/blocks", t.CreateBlockHandler.Handle)
			security.Get("/threats/recent", t.RecentThreatsHandler.Handle)
		}
	}

	router.All("/*", r.securityMiddleware.Middleware(), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "allowed"})
	})

	return nil
}
