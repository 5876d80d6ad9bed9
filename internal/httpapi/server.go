package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	gocoremw "github.com/arc-self/packages/go-core/middleware"
)

// ServerConfig collects the inputs NewServer needs beyond the route
// handlers themselves.
type ServerConfig struct {
	APIKey      string
	ServiceName string
	Logger      *zap.Logger
}

// NewServer constructs an Echo instance with the middleware stack laid
// out the same way across this codebase's services: OTel tracing first,
// structured request logging, panic recovery, the null-to-empty-array
// response normalizer, then bearer auth gating everything but /health
// and /ready.
func NewServer(h *Handlers, cfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			cfg.Logger.Info("http request",
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(gocoremw.NullToEmptyArray())

	auth := BearerAuth(cfg.APIKey)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Path() {
			case "/health", "/ready":
				return next(c)
			default:
				return auth(next)(c)
			}
		}
	})

	RegisterRoutes(e, h)
	return e
}

// NotFoundHandler renders a consistent envelope for unmatched routes,
// since Echo's default 404 body doesn't carry the {success,error} shape.
func NotFoundHandler(c echo.Context) error {
	return c.JSON(http.StatusNotFound, fail("no such route"))
}
