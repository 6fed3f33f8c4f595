package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/service"
)

// UserFromCtx extracts the touched user set by IdentityMiddleware.
func UserFromCtx(c echo.Context) (model.User, bool) {
	v := c.Get("user")
	u, ok := v.(model.User)
	return u, ok
}

// IdentityMiddleware resolves the identity asserted by the upstream auth
// proxy (X-Faucet-Channel / X-Faucet-Handle / X-Faucet-Domain headers),
// touches the user record and stores it in the request context. Token
// verification happens upstream; this service trusts the headers.
func IdentityMiddleware(faucet *service.Faucet) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			channel, ok := model.ParseChannel(c.Request().Header.Get("X-Faucet-Channel"))
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid channel"})
			}
			handle := strings.TrimSpace(c.Request().Header.Get("X-Faucet-Handle"))
			if handle == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing handle"})
			}
			domain := strings.TrimSpace(c.Request().Header.Get("X-Faucet-Domain"))

			user, err := faucet.TouchIdentity(c.Request().Context(), service.Identity{
				Channel: channel,
				Handle:  handle,
				Domain:  domain,
			})
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "identity error"})
			}

			c.Set("user", user)
			return next(c)
		}
	}
}
