package http

import (
	"errors"
	"strconv"
	"time"

	"students-registry/internal/shared/contextkeys"
	apperrors "students-registry/internal/shared/errors"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/metrics"
	"students-registry/internal/shared/utils"
	"students-registry/internal/students/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestID assigns X-Request-ID, generating one when the client sent none.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: string(contextkeys.RequestIDKey),
	})
}

// RequestContext stores the request id from RequestID in c.UserContext().
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid, ok := c.Locals(string(contextkeys.RequestIDKey)).(string); ok && rid != "" {
			c.SetUserContext(utils.WithRequestID(c.UserContext(), rid))
		}
		return c.Next()
	}
}

// CORS allows the configured origins.
func CORS(cfg *config.Config) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
		MaxAge:       86400,
	})
}

// RateLimiter limits requests per client address. A non-positive max disables it.
func RateLimiter(cfg *config.Config) fiber.Handler {
	if cfg.RateLimitMax <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:               cfg.RateLimitMax,
		Expiration:        cfg.RateLimitWindow,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Get(fiber.HeaderXForwardedFor, c.IP())
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
				"type":  "RATE_LIMITED",
			})
		},
	})
}

// AccessLog writes one zap line per request and records HTTP metrics. Handler errors are
// rendered here through the app's error handler so the logged status is the one sent.
func AccessLog(access *zap.Logger, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		route := c.Route().Path

		if m != nil {
			m.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(latency.Seconds())
		}
		if access != nil {
			access.Info("request",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("latency", latency),
				zap.String("ip", c.IP()),
				zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			)
		}
		return nil
	}
}

// ErrorHandler renders errors as {"error": message, "type": kind}.
func ErrorHandler(log logger.Logger) fiber.ErrorHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return func(c *fiber.Ctx, err error) error {
		status, body := errorResponse(err)
		reqLog := log.WithContext(c.UserContext())
		switch {
		case apperrors.IsUnavailable(err):
			reqLog.Warnf("%s %s: store unavailable: %v", c.Method(), c.Path(), err)
		case status >= fiber.StatusInternalServerError:
			reqLog.Errorf("%s %s failed: %v", c.Method(), c.Path(), err)
		case apperrors.IsValidation(err), apperrors.IsNotFound(err):
			reqLog.Debugf("%s %s rejected: %v", c.Method(), c.Path(), err)
		}
		return c.Status(status).JSON(body)
	}
}

func errorResponse(err error) (int, fiber.Map) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		body := fiber.Map{"error": appErr.Message, "type": string(appErr.Type)}
		if details, ok := appErr.Details["validation_errors"]; ok {
			body["details"] = details
		}
		status := appErr.HTTPCode
		if status == 0 {
			status = fiber.StatusInternalServerError
		}
		if status >= fiber.StatusInternalServerError && appErr.Type == apperrors.ErrorTypeInternal {
			body["error"] = "Internal Server Error"
		}
		return status, body
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, fiber.Map{"error": fiberErr.Message, "type": httpErrorType(fiberErr.Code)}
	}

	return fiber.StatusInternalServerError, fiber.Map{
		"error": "Internal Server Error",
		"type":  string(apperrors.ErrorTypeInternal),
	}
}

func httpErrorType(status int) string {
	switch {
	case status == fiber.StatusNotFound:
		return string(apperrors.ErrorTypeNotFound)
	case status == fiber.StatusServiceUnavailable:
		return string(apperrors.ErrorTypeUnavailable)
	case status >= fiber.StatusInternalServerError:
		return string(apperrors.ErrorTypeInternal)
	default:
		return "HTTP_ERROR"
	}
}
