package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/service"
	"github.com/faucetgw/faucetgw/internal/store/memory"
	"github.com/faucetgw/faucetgw/internal/transfer"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New(0)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Limits = config.LimitConfig{
		DefaultAmount:      100,
		DefaultDailyCap:    150,
		PrivilegedAmount:   1000,
		PrivilegedDailyCap: 0,
	}
	cfg.Auth.PrivilegedDomains = []string{"partner.example"}

	faucet, err := service.New(context.Background(), st, transfer.LoggingClient{}, cfg.Limits, cfg.Auth)
	require.NoError(t, err)

	return NewServer(cfg, faucet, nil), st
}

func do(srv *Server, method, path, body string, identity map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range identity {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	return rec
}

var aliceHeaders = map[string]string{
	"X-Faucet-Channel": "web",
	"X-Faucet-Handle":  "alice@example.org",
}

func TestMintEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/v1/mint", `{"amount":40}`, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "completed", resp["status"])
	require.NotEmpty(t, resp["tx_ref"])
	require.NotEmpty(t, resp["request_id"])
}

func TestMintRejectionStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)

	// no identity headers
	rec := do(srv, http.MethodPost, "/v1/mint", `{"amount":10}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// non-positive amount
	rec = do(srv, http.MethodPost, "/v1/mint", `{"amount":0}`, aliceHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// over the role ceiling
	rec = do(srv, http.MethodPost, "/v1/mint", `{"amount":101}`, aliceHeaders)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// daily cap: 80 + 80 > 150
	rec = do(srv, http.MethodPost, "/v1/mint", `{"amount":80}`, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(srv, http.MethodPost, "/v1/mint", `{"amount":80}`, aliceHeaders)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestQuotaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/v1/mint", `{"amount":60}`, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/v1/quota", "", aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(60), resp["minted_today"])
	require.Equal(t, float64(150), resp["cap"])
	require.Equal(t, float64(90), resp["remaining"])
}

func TestMeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	headers := map[string]string{
		"X-Faucet-Channel": "web",
		"X-Faucet-Handle":  "VIP@Partner.example",
		"X-Faucet-Domain":  "partner.example",
	}
	rec := do(srv, http.MethodGet, "/v1/me", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "vip@partner.example", resp["handle"])
	require.Equal(t, "privileged", resp["role"])
}

func TestAdminEndpointsForbiddenForUsers(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/v1/admin/role",
		`{"channel":"web","handle":"bob","role":"privileged"}`, aliceHeaders)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(srv, http.MethodPost, "/v1/admin/limits",
		`{"default_amount":200}`, aliceHeaders)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminSetRole(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	// first touch creates the account, then promote it out of band
	rec := do(srv, http.MethodGet, "/v1/me", "", aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	admin, err := st.FindUser(ctx, model.ChannelWeb, "alice@example.org")
	require.NoError(t, err)
	require.NoError(t, st.SetRole(ctx, admin.ID, model.RoleAdmin))

	rec = do(srv, http.MethodPost, "/v1/admin/role",
		`{"channel":"telegram","handle":"bob","role":"privileged"}`, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	bob, err := st.FindUser(ctx, model.ChannelTelegram, "bob")
	require.NoError(t, err)
	require.NotNil(t, bob)
	require.Equal(t, model.RolePrivileged, bob.Role)
}

func TestReportsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/v1/mint", `{"amount":35}`, aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/v1/reports/daily?day="+model.Today(), "", aliceHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Day      string           `json:"day"`
		Channels []map[string]any `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, model.Today(), resp.Day)
	require.Len(t, resp.Channels, 1)
	require.Equal(t, "web", resp.Channels[0]["channel"])
	require.Equal(t, float64(35), resp.Channels[0]["total_amount"])
	require.Equal(t, float64(1), resp.Channels[0]["success_count"])
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
