package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/faucetgw/faucetgw/internal/model"
)

var ErrBreakerOpen = fmt.Errorf("transfer endpoint unavailable (breaker open)")

// HTTPClient posts transfers to an external endpoint, guarded by a micro
// circuit breaker so a flapping endpoint fails fast instead of tying up
// pipeline workers.
type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	br      *MicroBreaker
}

func NewHTTPClient(baseURL, path string, timeoutMs, failThreshold, openForMs int) *HTTPClient {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPClient{
		baseURL: baseURL,
		path:    path,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:      NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

type transferRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Channel   string `json:"channel"`
}

type transferResponse struct {
	TxRef string `json:"tx_ref"`
}

func (c *HTTPClient) SubmitTransfer(ctx context.Context, req model.MintRequest) (string, error) {
	if !c.br.TryAcquire() {
		return "", ErrBreakerOpen
	}

	ref, err := c.post(ctx, req)
	if err != nil {
		c.br.OnFailure()
		return "", err
	}

	c.br.OnSuccess()
	return ref, nil
}

func (c *HTTPClient) post(ctx context.Context, req model.MintRequest) (string, error) {
	b, _ := json.Marshal(transferRequest{
		RequestID: req.ID,
		UserID:    req.UserID.String(),
		Amount:    req.Amount,
		Channel:   req.Channel.String(),
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("transfer endpoint status=%d", res.StatusCode)
	}

	var out transferResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transfer response: %w", err)
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("transfer response missing tx_ref")
	}
	return out.TxRef, nil
}
