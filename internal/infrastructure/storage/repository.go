package storage

import (
	"context"
	"errors"
	"log/slog"

	"memeforge/internal/application"
	"memeforge/internal/domain"
)

type Journal interface {
	application.ReceiptJournal
	Close() error
}

// Repository writes receipts to the primary journal and, when configured, to
// an analytics mirror. Reads and readiness follow the primary; a failing
// mirror is logged and never fails a write.
type Repository struct {
	primary Journal
	mirror  Journal
}

func NewRepository(primary Journal, mirror Journal) (*Repository, error) {
	if primary == nil {
		return nil, errors.New("primary journal is required")
	}
	return &Repository{primary: primary, mirror: mirror}, nil
}

func (r *Repository) StoreReceipt(ctx context.Context, receipt domain.TransactionReceipt) error {
	if err := r.primary.StoreReceipt(ctx, receipt); err != nil {
		return err
	}
	if r.mirror != nil {
		if err := r.mirror.StoreReceipt(ctx, receipt); err != nil {
			slog.Warn("mirror receipt failed", "tx_hash", receipt.Hash, "err", err)
		}
	}
	return nil
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error) {
	return r.primary.QueryReceipts(ctx, filter)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx)
}

func (r *Repository) Close() error {
	err := r.primary.Close()
	if r.mirror != nil {
		err = errors.Join(err, r.mirror.Close())
	}
	return err
}
