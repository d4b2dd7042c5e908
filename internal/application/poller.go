package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memeforge/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrTimeout is returned by Wait when no receipt shows up within the wait budget.
var ErrTimeout = errors.New("transaction confirmation timeout")

// TimeoutError is the ErrTimeout value returned by Wait. Waited is measured on
// the poller's clock and may exceed the budget by one provider round trip.
type TimeoutError struct {
	Hash   string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s not mined after %s", ErrTimeout, e.Hash, e.Waited)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

const (
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultMaxWaitTime  = 120 * time.Second
	DefaultPollInterval = 3 * time.Second
)

type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash string) (domain.TransactionReceipt, bool, error)
}

type PollObserver interface {
	OnPollAttempt(hash string, attempt int)
	OnProviderError(hash string, err error)
	OnConfirmed(receipt domain.TransactionReceipt)
	OnTimeout(hash string, waited time.Duration)
}

// PollConfig holds the retry budgets. RetryDelay paces Status, PollInterval
// paces Wait; the two are independent.
type PollConfig struct {
	MaxRetries   int
	RetryDelay   time.Duration
	MaxWaitTime  time.Duration
	PollInterval time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = DefaultMaxWaitTime
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Poller answers whether a transaction has been mined. It keeps no state
// between calls and is safe for concurrent use.
type Poller struct {
	source   ReceiptSource
	clock    Clock
	observer PollObserver
	cfg      PollConfig
}

func NewPoller(source ReceiptSource, clock Clock, observer PollObserver, cfg PollConfig) (*Poller, error) {
	if source == nil {
		return nil, errors.New("receipt source is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Poller{source: source, clock: clock, observer: observer, cfg: cfg.withDefaults()}, nil
}

// Status queries the receipt up to retries times, sleeping RetryDelay between
// attempts. Provider errors are retried; an exhausted budget reports false
// with a nil error. Malformed provider data is returned immediately.
func (p *Poller) Status(ctx context.Context, hash string, retries int) (domain.TransactionReceipt, bool, error) {
	if retries <= 0 {
		retries = p.cfg.MaxRetries
	}
	ctx, span := otel.Tracer("memeforge/poller").Start(ctx, "poller.status")
	defer span.End()
	span.SetAttributes(attribute.String("tx.hash", hash), attribute.Int("poll.retries", retries))

	for attempt := 0; attempt < retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.TransactionReceipt{}, false, err
		}
		if p.observer != nil {
			p.observer.OnPollAttempt(hash, attempt+1)
		}

		receipt, ok, err := p.source.TransactionReceipt(ctx, hash)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.TransactionReceipt{}, false, ctxErr
			}
			if errors.Is(err, domain.ErrMalformedResponse) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return domain.TransactionReceipt{}, false, err
			}
			slog.Warn("transaction status check failed",
				"tx_hash", hash,
				"attempt", attempt+1,
				"err", err,
			)
			if p.observer != nil {
				p.observer.OnProviderError(hash, err)
			}
		case ok:
			receipt.Timestamp = p.clock.Now()
			span.SetAttributes(attribute.String("tx.status", string(receipt.Status)))
			if p.observer != nil {
				p.observer.OnConfirmed(receipt)
			}
			return receipt, true, nil
		default:
			slog.Debug("transaction not yet mined", "tx_hash", hash, "attempt", attempt+1)
		}

		if attempt < retries-1 {
			if err := p.sleep(ctx, p.cfg.RetryDelay); err != nil {
				return domain.TransactionReceipt{}, false, err
			}
		}
	}
	return domain.TransactionReceipt{}, false, nil
}

// Wait polls with a single-attempt Status every PollInterval until a receipt
// is found or maxWait elapses, in which case it returns ErrTimeout.
func (p *Poller) Wait(ctx context.Context, hash string, maxWait time.Duration) (domain.TransactionReceipt, error) {
	if maxWait <= 0 {
		maxWait = p.cfg.MaxWaitTime
	}
	ctx, span := otel.Tracer("memeforge/poller").Start(ctx, "poller.wait")
	defer span.End()
	span.SetAttributes(attribute.String("tx.hash", hash), attribute.Int64("poll.max_wait_ms", maxWait.Milliseconds()))

	start := p.clock.Now()
	for p.clock.Now().Sub(start) < maxWait {
		receipt, ok, err := p.Status(ctx, hash, 1)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return domain.TransactionReceipt{}, err
		}
		if ok {
			return receipt, nil
		}
		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return domain.TransactionReceipt{}, err
		}
	}

	waited := p.clock.Now().Sub(start)
	if p.observer != nil {
		p.observer.OnTimeout(hash, waited)
	}
	err := &TimeoutError{Hash: hash, Waited: waited}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return domain.TransactionReceipt{}, err
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}
