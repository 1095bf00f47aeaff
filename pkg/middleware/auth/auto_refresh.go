package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dkoroteev/socialnet/pkg/sessionclient"
	"github.com/dkoroteev/socialnet/pkg/tokens"
)

// AutoRefreshMiddleware is the authentication filter the platform's edge
// services put in front of their routes. It verifies the access cookie,
// confirms the session is still honored, and proactively swaps a
// near-expiry token for a fresh one so users never hit a hard expiry.
type AutoRefreshMiddleware struct {
	Codec  *tokens.Codec
	Client *sessionclient.Client
	// Window is how close to expiry a token may get before the filter
	// refreshes it. Zero means refresh only once actually expired.
	Window time.Duration
}

func NewAutoRefreshMiddleware(codec *tokens.Codec, client *sessionclient.Client, window time.Duration) *AutoRefreshMiddleware {
	return &AutoRefreshMiddleware{
		Codec:  codec,
		Client: client,
		Window: window,
	}
}

type ValidatorFunc func(claims *tokens.Claims) error

func (m *AutoRefreshMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return m.requireAuthWithValidator(next, nil)
}

func (m *AutoRefreshMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.requireAuthWithValidator(next, func(claims *tokens.Claims) error {
		if claims.Role != tokens.RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		return nil
	})
}

func (m *AutoRefreshMiddleware) requireAuthWithValidator(next echo.HandlerFunc, validator ValidatorFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accessCookie, err := c.Cookie("accessToken")
		if err != nil || accessCookie.Value == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}
		raw := accessCookie.Value

		claims, verr := m.Codec.Verify(raw, tokens.AudienceUser)
		if verr != nil && !errors.Is(verr, tokens.ErrExpired) {
			clearAuthCookies(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}
		if errors.Is(verr, tokens.ErrExpired) {
			claims, err = m.Codec.DecodeExpired(raw, tokens.AudienceUser)
			if err != nil {
				clearAuthCookies(c)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}
		}

		ctx := c.Request().Context()

		// The active check runs against the presented token, before any
		// rotation replaces it in the store.
		active, err := m.Client.IsSessionActive(ctx, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "session check failed")
		}
		if !active {
			clearAuthCookies(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "session no longer active")
		}

		if errors.Is(verr, tokens.ErrExpired) || claims.NearExpiry(m.Window) {
			fresh, rerr := m.Client.RefreshAccessToken(ctx, raw)
			if rerr != nil {
				clearAuthCookies(c)
				return echo.NewHTTPError(http.StatusUnauthorized, "refresh failed")
			}
			claims, err = m.Codec.Verify(fresh, tokens.AudienceUser)
			if err != nil {
				clearAuthCookies(c)
				return echo.NewHTTPError(http.StatusUnauthorized, "new access token invalid")
			}
			c.SetCookie(createCookie("accessToken", fresh, "/", claims.ExpiresAt.Time))
		}

		if validator != nil {
			if validationErr := validator(claims); validationErr != nil {
				return validationErr
			}
		}

		setUserContext(c, claims)
		return next(c)
	}
}

func createCookie(name, value, path string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func deleteCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func clearAuthCookies(c echo.Context) {
	c.SetCookie(deleteCookie("accessToken", "/"))
	c.SetCookie(deleteCookie("refreshToken", "/"))
}

func setUserContext(c echo.Context, claims *tokens.Claims) {
	c.Set("username", claims.Subject)
	c.Set("role", string(claims.Role))
}
