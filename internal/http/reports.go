package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/service"
)

func dailyReportHandler(faucet *service.Faucet) echo.HandlerFunc {
	return func(c echo.Context) error {
		day := c.QueryParam("day")
		if day == "" {
			day = model.Today()
		} else if _, err := time.Parse("2006-01-02", day); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid day"})
		}

		rows, err := faucet.DailySummary(c.Request().Context(), day)
		if err != nil {
			log.Errorf("daily summary failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, map[string]any{
				"channel":       row.Channel,
				"total_amount":  row.TotalAmount,
				"success_count": row.SuccessCount,
				"failure_count": row.FailureCount,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"day": day, "channels": out})
	}
}
