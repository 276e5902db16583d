package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts transaction behaviour.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the commit retry limit.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the transaction duration.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction executes fn inside a transaction on the provider's client.
// A timeout applies unless the caller's context already expires sooner.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	settings := txSettings{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	if settings.timeout > 0 {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > settings.timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, settings.timeout)
			defer cancel()
		}
	}

	err = client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts))
	return WrapError("transaction", err)
}
