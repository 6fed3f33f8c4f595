// Package transfer is the boundary to the external value-transfer
// capability. The pipeline calls SubmitTransfer at most once per terminal
// transition attempt and treats any error as permanent for that attempt.
package transfer

import (
	"context"

	"go.uber.org/zap"

	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/model"
)

// Client submits one transfer and returns a transaction reference.
// Implementations must not be assumed idempotent.
type Client interface {
	SubmitTransfer(ctx context.Context, req model.MintRequest) (string, error)
}

// LoggingClient is the mock capability: it always succeeds and returns a
// freshly generated reference.
type LoggingClient struct{}

func (LoggingClient) SubmitTransfer(_ context.Context, req model.MintRequest) (string, error) {
	if logger.Log != nil {
		logger.Log.Info("mock_transfer",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("amount", req.Amount),
		)
	}
	return "mock-tx-" + model.NewID(), nil
}
