package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dkoroteev/socialnet/pkg/logging"
	"github.com/dkoroteev/socialnet/pkg/tokens"
	"github.com/dkoroteev/socialnet/services/session/internal/service"
	"github.com/dkoroteev/socialnet/services/session/internal/transport"
)

// ProofHeader carries the keyed possession digest on the access-only
// refresh path.
const ProofHeader = "X-Session-Proof"

const accessTokenHeader = "X-Access-Token"

type SessionHTTP struct {
	Svc     *service.SessionService
	Janitor *service.Janitor
}

func (h *SessionHTTP) Create(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "session_create")

	var req transport.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	role, err := tokens.ParseRole(req.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid role")
	}

	pair, err := h.Svc.CreateSession(ctx, req.UserID, req.Username, role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tokenPairResponse(pair))
}

func (h *SessionHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "session_refresh")

	var req transport.RefreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		l.Warn("refresh_error", "status", 400)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	pair, err := h.Svc.RefreshTokens(ctx, req.RefreshToken)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tokenPairResponse(pair))
}

func (h *SessionHTTP) RefreshAccess(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "token_refresh")

	var req transport.RefreshAccessRequest
	if err := c.Bind(&req); err != nil || req.AccessToken == "" {
		l.Warn("refresh_access_error", "status", 400)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	token, err := h.Svc.RefreshAccessTokenOnly(ctx, req.AccessToken, c.Request().Header.Get(ProofHeader))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, transport.AccessTokenResponse{AccessToken: token})
}

func (h *SessionHTTP) Active(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.Request().Header.Get(accessTokenHeader)
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing access token")
	}
	return c.JSON(http.StatusOK, transport.ActiveResponse{
		Active: h.Svc.IsSessionActive(ctx, token),
	})
}

func (h *SessionHTTP) Deactivate(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "session_deactivate")

	var req transport.DeactivateRequest
	if err := c.Bind(&req); err != nil || req.AccessToken == "" {
		l.Warn("deactivate_error", "status", 400)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.Deactivate(ctx, req.AccessToken); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHTTP) Touch(c echo.Context) error {
	ctx := c.Request().Context()

	var req transport.TouchRequest
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.TouchActivity(ctx, req.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHTTP) Sweep(c echo.Context) error {
	report := h.Janitor.SweepOnce(c.Request().Context())
	return c.JSON(http.StatusOK, report)
}

func tokenPairResponse(pair *service.TokenPair) transport.TokenPairResponse {
	return transport.TokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt.Unix(),
		RefreshExpiresAt: pair.RefreshExpiresAt.Unix(),
	}
}

// httpError maps service errors onto the wire. Security-class errors come
// out as 403 so edge filters force a logout; infrastructure failures as 503
// so callers can tell "down" from "denied". Everything else keeps its
// validation meaning.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, service.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, service.ErrConcurrentSession), errors.Is(err, service.ErrSessionsBlocked):
		return echo.NewHTTPError(http.StatusForbidden, "session conflict")
	case errors.Is(err, service.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrNoActiveSession):
		return echo.NewHTTPError(http.StatusNotFound, "no active session")
	case errors.Is(err, service.ErrSessionNotActive):
		return echo.NewHTTPError(http.StatusConflict, "session not active")
	case errors.Is(err, service.ErrAlreadyInactive):
		return echo.NewHTTPError(http.StatusConflict, "session already inactive")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
