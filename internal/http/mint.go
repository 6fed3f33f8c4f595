package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/faucetgw/faucetgw/internal/http/middleware"
	"github.com/faucetgw/faucetgw/internal/pipeline"
	"github.com/faucetgw/faucetgw/internal/ratelimit"
	"github.com/faucetgw/faucetgw/internal/service"
)

type mintReq struct {
	Amount int64 `json:"amount"`
}

func mintHandler(faucet *service.Faucet) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req mintReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		user, ok := middleware.UserFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		outcome, err := faucet.Mint(c.Request().Context(), user, req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidAmount):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid amount"})
			case errors.Is(err, ratelimit.ErrAmountExceedsRoleLimit):
				return c.JSON(http.StatusUnprocessableEntity, map[string]any{
					"error":      "amount_exceeds_role_limit",
					"max_amount": faucet.MaxAmount(user.Role),
				})
			case errors.Is(err, ratelimit.ErrDailyCapReached):
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "daily_cap_reached"})
			case errors.Is(err, pipeline.ErrTransferFailed):
				return c.JSON(http.StatusBadGateway, map[string]any{
					"error":      "transfer_failed",
					"request_id": outcome.Request.ID,
				})
			}

			log.Errorf("mint failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"request_id": outcome.Request.ID,
			"tx_ref":     outcome.TxRef,
			"amount":     outcome.Request.Amount,
			"status":     outcome.Request.Status.String(),
		})
	}
}

func quotaHandler(faucet *service.Faucet) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := middleware.UserFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		snap, err := faucet.QuotaSnapshot(c.Request().Context(), user)
		if err != nil {
			log.Errorf("quota snapshot failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		resp := map[string]any{"minted_today": snap.MintedToday}
		if snap.Capped {
			resp["cap"] = snap.Cap
			resp["remaining"] = snap.Remaining
		} else {
			resp["cap"] = nil
		}
		return c.JSON(http.StatusOK, resp)
	}
}
