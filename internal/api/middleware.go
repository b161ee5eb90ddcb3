package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	ownerKey         = "owner"
	accessTokenQuery = "access_token"
)

// AuthMiddleware validates JWT tokens and extracts the session owner. It is a
// pass-through when authentication is not configured.
func (s *Server) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.authService == nil || !s.authService.Enabled() {
			c.Set(ownerKey, "")
			return next(c)
		}

		token := GetAccessToken(c)
		if token == "" {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader != "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header"})
			}
			// Browsers cannot set headers on a websocket handshake.
			token = c.QueryParam(accessTokenQuery)
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
		}

		claims, err := s.authService.ValidateToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		}

		c.Set(ownerKey, claims.Subject)
		return next(c)
	}
}

// GetOwner extracts the session owner from the echo context.
func GetOwner(c echo.Context) string {
	owner, _ := c.Get(ownerKey).(string)
	return owner
}

// GetAccessToken extracts the raw JWT from Authorization header.
func GetAccessToken(c echo.Context) string {
	parts := strings.Fields(c.Request().Header.Get(echo.HeaderAuthorization))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
