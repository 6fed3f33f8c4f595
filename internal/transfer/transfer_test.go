package transfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faucetgw/faucetgw/internal/model"
)

func testRequest() model.MintRequest {
	user := model.NewUser(model.ChannelWeb, "alice", "")
	return model.NewMintRequest(user.ID, user.Channel, 25)
}

func TestLoggingClientAlwaysSucceeds(t *testing.T) {
	ref, err := LoggingClient{}.SubmitTransfer(context.Background(), testRequest())
	require.NoError(t, err)
	require.Contains(t, ref, "mock-tx-")
}

func TestHTTPClientSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/transfer", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tx_ref":"chain-tx-42"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "/v1/transfer", 1000, 3, 1000)
	ref, err := c.SubmitTransfer(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "chain-tx-42", ref)
}

func TestHTTPClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "/v1/transfer", 1000, 3, 1000)
	_, err := c.SubmitTransfer(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=503")
}

func TestHTTPClientMissingTxRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "/v1/transfer", 1000, 3, 1000)
	_, err := c.SubmitTransfer(context.Background(), testRequest())
	require.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "/v1/transfer", 1000, 2, 60_000)

	_, err := c.SubmitTransfer(context.Background(), testRequest())
	require.Error(t, err)
	_, err = c.SubmitTransfer(context.Background(), testRequest())
	require.Error(t, err)
	require.Equal(t, int32(2), hits.Load())

	// threshold reached: the breaker rejects without touching the endpoint
	_, err = c.SubmitTransfer(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrBreakerOpen)
	require.Equal(t, int32(2), hits.Load())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	br := NewMicroBreaker(1, 20*time.Millisecond)

	require.True(t, br.TryAcquire())
	br.OnFailure()

	// open: everything rejected until the window elapses
	require.False(t, br.TryAcquire())

	time.Sleep(30 * time.Millisecond)

	// one probe allowed; a concurrent caller is still rejected
	require.True(t, br.TryAcquire())
	require.False(t, br.TryAcquire())

	br.OnSuccess()
	require.True(t, br.TryAcquire())
	require.True(t, br.TryAcquire())
}
