package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/faucetgw/faucetgw/internal/http/middleware"
	"github.com/faucetgw/faucetgw/internal/model"
)

func meHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := middleware.UserFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return c.JSON(http.StatusOK, userJSON(user))
	}
}

func userJSON(u model.User) map[string]any {
	return map[string]any{
		"id":           u.ID.String(),
		"channel":      u.Channel.String(),
		"handle":       u.Handle,
		"role":         u.Role.String(),
		"domain":       u.Domain,
		"last_seen_at": u.LastSeenAt,
	}
}
