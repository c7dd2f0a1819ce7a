package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	TokenCookie = "token"
	userIDKey   = "user_id"
)

// Middleware rejects requests without a valid token before they reach a handler,
// and attaches the authenticated identity to the echo context.
func Middleware(tokens *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := ExtractToken(c.Request())
			if tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrMissingToken.Error())
			}
			claims, err := tokens.ValidateToken(tokenStr)
			if err != nil || !domain.IsValidID(claims.UserID) {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrInvalidToken.Error())
			}
			c.Set(userIDKey, claims.UserID)
			return next(c)
		}
	}
}

// UserID returns the identity attached by Middleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

// ExtractToken reads the "token" cookie, then falls back to a bearer header.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
