package httpserver

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkoroteev/socialnet/pkg/tokens"
)

type Deps struct {
	Session *SessionHTTP
	Keys    *tokens.KeyRegistry
}

// Register wires the routes. Everything except health and metrics sits
// behind the inter-service token gate: callers present a short-lived service
// token, verified against the service-audience key by kid.
func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	internal := e.Group("", echojwt.WithConfig(echojwt.Config{
		SigningMethod: "HS256",
		ContextKey:    "caller",
		KeyFunc:       d.Keys.KeyFuncFor(tokens.AudienceInterService),
	}))

	internal.POST("/session", d.Session.Create)
	internal.POST("/session/refresh", d.Session.Refresh)
	internal.POST("/token/refresh", d.Session.RefreshAccess)
	internal.GET("/session/active", d.Session.Active)
	internal.POST("/session/deactivate", d.Session.Deactivate)
	internal.POST("/session/touch", d.Session.Touch)
	internal.POST("/janitor/sweep", d.Session.Sweep)
}
