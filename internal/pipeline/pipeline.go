// Package pipeline owns the mint-request state machine:
// pending -> processing -> {completed, failed}, terminal states final.
//
// Two execution modes share the same guarantees. Inline mode drives a
// request to a terminal state within the caller's operation. Decoupled mode
// persists pending requests, publishes a wakeup onto a bounded queue and
// lets workers claim them exclusively via the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/metrics"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
	"github.com/faucetgw/faucetgw/internal/transfer"
)

var (
	ErrQueueClosed    = errors.New("mint queue closed")
	ErrTransferFailed = errors.New("transfer failed")
)

// Executor performs the processing -> terminal sequence against the ledger.
type Executor struct {
	Ledger    store.MintLedger
	Reporting store.Reporting
	Client    transfer.Client
}

func NewExecutor(ledger store.MintLedger, reporting store.Reporting, client transfer.Client) *Executor {
	return &Executor{Ledger: ledger, Reporting: reporting, Client: client}
}

// RunInline persists the request as pending and drives it to a terminal
// state in the caller's goroutine. The terminal state is durably recorded
// before any error is surfaced.
func (e *Executor) RunInline(ctx context.Context, req model.MintRequest) (model.MintOutcome, error) {
	req.Status = model.StatusPending
	if err := e.Ledger.Enqueue(ctx, req); err != nil {
		return model.MintOutcome{}, fmt.Errorf("enqueue: %w", err)
	}

	if err := e.Ledger.UpdateStatus(ctx, req.ID, model.StatusProcessing); err != nil {
		return model.MintOutcome{}, fmt.Errorf("mark processing: %w", err)
	}
	req.Status = model.StatusProcessing
	req.Attempt++

	return e.finish(ctx, req)
}

// finish invokes the transfer capability exactly once and records the
// terminal outcome.
func (e *Executor) finish(ctx context.Context, req model.MintRequest) (model.MintOutcome, error) {
	ref, terr := e.Client.SubmitTransfer(ctx, req)
	now := time.Now().UTC()
	req.ProcessedAt = &now

	if terr != nil {
		req.Status = model.StatusFailed
		req.Error = terr.Error()
		outcome := model.MintOutcome{Request: req}
		if err := e.Ledger.RecordOutcome(ctx, outcome); err != nil {
			return outcome, fmt.Errorf("record outcome: %w", err)
		}
		if err := e.Reporting.LogFailure(ctx, req.ID, now, terr.Error()); err != nil {
			return outcome, fmt.Errorf("log failure: %w", err)
		}
		metrics.MintsTotal.WithLabelValues(req.Status.String(), req.Channel.String()).Inc()
		if logger.Log != nil {
			logger.Log.Warn("mint_failed",
				zap.String("request_id", req.ID),
				zap.String("error", terr.Error()),
			)
		}
		return outcome, fmt.Errorf("%w: %s", ErrTransferFailed, terr)
	}

	req.Status = model.StatusCompleted
	req.TxRef = ref
	outcome := model.MintOutcome{Request: req, TxRef: ref}
	if err := e.Ledger.RecordOutcome(ctx, outcome); err != nil {
		return outcome, fmt.Errorf("record outcome: %w", err)
	}
	metrics.MintsTotal.WithLabelValues(req.Status.String(), req.Channel.String()).Inc()
	metrics.MintedAmount.WithLabelValues(req.Channel.String()).Add(float64(req.Amount))
	if logger.Log != nil {
		logger.Log.Info("mint_completed",
			zap.String("request_id", req.ID),
			zap.String("tx_ref", ref),
		)
	}
	return outcome, nil
}

// Queue is the decoupled execution mode. Submit persists the request and
// publishes a wakeup; workers claim requests exclusively through the
// ledger, so a wakeup never pins a specific request to a specific worker.
type Queue struct {
	exec  *Executor
	sweep time.Duration

	wakeups chan struct{}
	done    chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewQueue builds a queue with a fixed capacity. sweep is the interval at
// which idle workers poll the ledger for reclaimed or restart-orphaned
// requests; zero disables the sweep.
func NewQueue(exec *Executor, depth int, sweep time.Duration) *Queue {
	if depth <= 0 {
		depth = 128
	}
	return &Queue{
		exec:    exec,
		sweep:   sweep,
		wakeups: make(chan struct{}, depth),
		done:    make(chan struct{}),
	}
}

// Submit persists the request as pending and publishes it. When the queue
// is full, Submit blocks until space frees up, the context is cancelled or
// the queue closes; it never drops silently.
func (q *Queue) Submit(ctx context.Context, req model.MintRequest) error {
	req.Status = model.StatusPending
	if err := q.exec.Ledger.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.wakeups <- struct{}{}:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals graceful shutdown: submitters are unblocked first, then the
// wakeup channel is closed so workers drain and exit.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.wakeups)
		q.mu.Unlock()
	})
}

// Run consumes wakeups until the queue closes or the context is cancelled.
// Safe to run from multiple goroutines; the ledger claim guarantees no two
// workers ever hold the same request.
func (q *Queue) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if q.sweep > 0 {
		t := time.NewTicker(q.sweep)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-q.wakeups:
			if !ok {
				return nil
			}
			q.claimOne(ctx)
		case <-tick:
			// pick up requests reclaimed after a visibility timeout,
			// or left pending by a previous process
			for q.claimOne(ctx) {
			}
		}
	}
}

func (q *Queue) claimOne(ctx context.Context) bool {
	req, err := q.exec.Ledger.ClaimNextPending(ctx)
	if err != nil {
		if logger.Log != nil {
			logger.Log.Error("claim_failed", zap.Error(err))
		}
		return false
	}
	if req == nil {
		return false
	}

	// transfer errors are terminal for the attempt and already recorded
	if _, err := q.exec.finish(ctx, *req); err != nil && !errors.Is(err, ErrTransferFailed) {
		if logger.Log != nil {
			logger.Log.Error("finish_failed", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	return true
}
