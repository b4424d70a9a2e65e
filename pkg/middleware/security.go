package middleware

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/common"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/enforce"
	"github.com/guardline/abusegate/pkg/metrics"
	"github.com/guardline/abusegate/pkg/ratelimit"
	"github.com/guardline/abusegate/pkg/reputation"
	"github.com/guardline/abusegate/pkg/types"
	"github.com/guardline/abusegate/pkg/waf"
)

// securityMiddleware runs the request pipeline in a fixed order: account
// lock, IP reputation, rate limit, payload inspection. The first denial
// short-circuits; a request that clears all four is recorded and passed
// through with the actor's standing flags attached.
type securityMiddleware struct {
	enforcer  *enforce.Enforcer
	ledger    *reputation.Ledger
	limiter   *ratelimit.Limiter
	inspector *waf.Inspector
	sink      *audit.Sink
	logger    *logrus.Logger
}

func NewSecurityMiddleware(
	enforcer *enforce.Enforcer,
	ledger *reputation.Ledger,
	limiter *ratelimit.Limiter,
	inspector *waf.Inspector,
	sink *audit.Sink,
	logger *logrus.Logger,
) Middleware {
	return &securityMiddleware{
		enforcer:  enforcer,
		ledger:    ledger,
		limiter:   limiter,
		inspector: inspector,
		sink:      sink,
		logger:    logger,
	}
}

func (m *securityMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		actorID := c.Get(common.ActorIDHeader)
		ip := c.IP()

		if actorID != "" && m.enforcer.IsLocked(ctx, actorID) {
			metrics.DecisionsTotal.WithLabelValues("enforce", "denied").Inc()
			return denialResponse(c, &types.SecurityError{
				StatusCode: fiber.StatusLocked,
				Code:       types.CodeAccountLocked,
			})
		}

		if m.ledger.IsBlocked(ctx, ip) {
			return denialResponse(c, &types.SecurityError{
				StatusCode: fiber.StatusForbidden,
				Code:       "forbidden",
				Reason:     types.CodeIPBlocked,
			})
		}

		identity := actorID
		if identity == "" {
			identity = ip
		}
		decision := m.limiter.Allow(ctx, identity, scopeForPath(c.Path()))
		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			return denialResponse(c, &types.SecurityError{
				StatusCode:   fiber.StatusTooManyRequests,
				Code:         types.CodeRateLimited,
				RetryAfterMs: decision.RetryAfterMs,
			})
		}

		if result := m.inspector.Inspect(requestContextFrom(c)); result.Blocked {
			metrics.DecisionsTotal.WithLabelValues("waf", "denied").Inc()
			m.sink.Append(ctx, &events.SecurityEvent{
				EventType: events.WAFEventType(result.Category),
				UserID:    actorID,
				IP:        ip,
				UserAgent: c.Get(fiber.HeaderUserAgent),
				Details: events.JSONMap{
					"pattern":  result.Pattern,
					"match":    result.Match,
					"location": result.Location,
					"path":     c.Path(),
				},
			})
			return denialResponse(c, &types.SecurityError{
				StatusCode: fiber.StatusForbidden,
				Code:       "forbidden",
				Reason:     types.CodeThreatBlocked,
			})
		}

		metrics.DecisionsTotal.WithLabelValues("pipeline", "allowed").Inc()
		m.sink.Append(ctx, &events.SecurityEvent{
			EventType: events.TypeRequest,
			UserID:    actorID,
			IP:        ip,
			UserAgent: c.Get(fiber.HeaderUserAgent),
			Details: events.JSONMap{
				"method": c.Method(),
				"path":   c.Path(),
			},
		})

		if actorID != "" {
			flags := m.enforcer.ActorFlags(ctx, actorID)
			if flags.MFARequired {
				c.Set(common.MFARequiredHeader, "true")
			}
			if flags.Monitored {
				c.Set(common.MonitoredHeader, "true")
			}
		}

		return c.Next()
	}
}

// scopeForPath buckets a route into its rate limit scope by path class.
func scopeForPath(path string) string {
	switch {
	case strings.Contains(path, "/auth"), strings.Contains(path, "/login"):
		return ratelimit.ScopeAuth
	case strings.Contains(path, "/generate"), strings.Contains(path, "/generation"):
		return ratelimit.ScopeGeneration
	default:
		return ratelimit.ScopeGeneral
	}
}

func requestContextFrom(c *fiber.Ctx) *types.RequestContext {
	query := url.Values{}
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		query.Add(string(key), string(value))
	})
	return &types.RequestContext{
		Method:    c.Method(),
		Path:      c.Path(),
		Query:     query,
		Headers:   c.GetReqHeaders(),
		Body:      c.Body(),
		ClientIP:  c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		ActorID:   c.Get(common.ActorIDHeader),
	}
}

// denialResponse renders a pipeline denial. Every denied request goes
// through here so the body shape and headers stay uniform.
func denialResponse(c *fiber.Ctx, secErr *types.SecurityError) error {
	body := fiber.Map{"error": secErr.Code}
	if secErr.Reason != "" {
		body["reason"] = secErr.Reason
	}
	if secErr.RetryAfterMs > 0 {
		body["retryAfter"] = secErr.RetryAfterMs
		c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retryAfterSeconds(secErr.RetryAfterMs), 10))
	}
	return c.Status(secErr.StatusCode).JSON(body)
}

func retryAfterSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
