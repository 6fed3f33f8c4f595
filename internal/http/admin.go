package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/faucetgw/faucetgw/internal/http/middleware"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/service"
)

type setRoleReq struct {
	Channel string `json:"channel"`
	Handle  string `json:"handle"`
	Role    string `json:"role"`
}

func setRoleHandler(faucet *service.Faucet) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req setRoleReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		channel, ok := model.ParseChannel(req.Channel)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid channel"})
		}
		role, ok := model.ParseRole(req.Role)
		if !ok || req.Role == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid role"})
		}
		if req.Handle == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing handle"})
		}

		actor, ok := middleware.UserFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		user, err := faucet.SetRole(c.Request().Context(), actor, channel, req.Handle, role)
		if err != nil {
			if errors.Is(err, service.ErrForbidden) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			log.Errorf("set role failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, userJSON(user))
	}
}

type setLimitsReq struct {
	DefaultAmount      *int64 `json:"default_amount"`
	DefaultDailyCap    *int64 `json:"default_daily_cap"`
	PrivilegedAmount   *int64 `json:"privileged_amount"`
	PrivilegedDailyCap *int64 `json:"privileged_daily_cap"`
}

func setLimitsHandler(faucet *service.Faucet) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req setLimitsReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		actor, ok := middleware.UserFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		overrides := make(map[string]int64)
		if req.DefaultAmount != nil {
			overrides[model.ConfigDefaultAmount] = *req.DefaultAmount
		}
		if req.DefaultDailyCap != nil {
			overrides[model.ConfigDefaultDailyCap] = *req.DefaultDailyCap
		}
		if req.PrivilegedAmount != nil {
			overrides[model.ConfigPrivilegedAmount] = *req.PrivilegedAmount
		}
		if req.PrivilegedDailyCap != nil {
			overrides[model.ConfigPrivilegedDailyCap] = *req.PrivilegedDailyCap
		}
		if len(overrides) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "no overrides"})
		}

		if err := faucet.UpdateLimits(c.Request().Context(), actor, overrides); err != nil {
			if errors.Is(err, service.ErrForbidden) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			log.Errorf("update limits failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		// overrides apply to processes started after this call
		return c.JSON(http.StatusAccepted, map[string]any{"updated": len(overrides)})
	}
}
