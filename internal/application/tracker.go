package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"memeforge/internal/domain"
)

type ReceiptJournal interface {
	StoreReceipt(ctx context.Context, receipt domain.TransactionReceipt) error
	QueryReceipts(ctx context.Context, filter ReceiptQueryFilter) ([]domain.TransactionReceipt, error)
	Ping(ctx context.Context) error
}

type ReceiptPublisher interface {
	PublishReceipt(ctx context.Context, receipt domain.TransactionReceipt) error
	PublishTimeout(ctx context.Context, chainID uint64, hash string, waited time.Duration) error
}

// Tracker runs the poller for one chain and records what it confirms.
// Journal and publisher are optional.
type Tracker struct {
	chainID   uint64
	poller    *Poller
	journal   ReceiptJournal
	publisher ReceiptPublisher
}

func NewTracker(chainID uint64, poller *Poller, journal ReceiptJournal, publisher ReceiptPublisher) (*Tracker, error) {
	if poller == nil {
		return nil, errors.New("poller is required")
	}
	return &Tracker{chainID: chainID, poller: poller, journal: journal, publisher: publisher}, nil
}

func (t *Tracker) ChainID() uint64 {
	return t.chainID
}

func (t *Tracker) Check(ctx context.Context, hash string, retries int) (domain.TransactionReceipt, bool, error) {
	receipt, ok, err := t.poller.Status(ctx, hash, retries)
	if err != nil || !ok {
		return receipt, ok, err
	}
	t.record(ctx, &receipt)
	return receipt, true, nil
}

func (t *Tracker) Wait(ctx context.Context, hash string, maxWait time.Duration) (domain.TransactionReceipt, error) {
	receipt, err := t.poller.Wait(ctx, hash, maxWait)
	if err != nil {
		var timeout *TimeoutError
		if errors.As(err, &timeout) && t.publisher != nil {
			if pubErr := t.publisher.PublishTimeout(ctx, t.chainID, hash, timeout.Waited); pubErr != nil {
				slog.Warn("publish timeout failed", "tx_hash", hash, "err", pubErr)
			}
		}
		return receipt, err
	}
	t.record(ctx, &receipt)
	return receipt, nil
}

func (t *Tracker) record(ctx context.Context, receipt *domain.TransactionReceipt) {
	if receipt.ChainID == 0 {
		receipt.ChainID = t.chainID
	}
	if t.journal != nil {
		if err := t.journal.StoreReceipt(ctx, *receipt); err != nil {
			slog.Warn("journal receipt failed", "tx_hash", receipt.Hash, "err", err)
		}
	}
	if t.publisher != nil {
		if err := t.publisher.PublishReceipt(ctx, *receipt); err != nil {
			slog.Warn("publish receipt failed", "tx_hash", receipt.Hash, "err", err)
		}
	}
}
