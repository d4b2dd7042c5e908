package storage

import (
	"context"
	"errors"
	"testing"

	"memeforge/internal/application"
	"memeforge/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	stored   []domain.TransactionReceipt
	storeErr error
	pingErr  error
	closed   bool
}

func (f *fakeJournal) StoreReceipt(_ context.Context, receipt domain.TransactionReceipt) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, receipt)
	return nil
}

func (f *fakeJournal) QueryReceipts(context.Context, application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error) {
	return f.stored, nil
}

func (f *fakeJournal) Ping(context.Context) error { return f.pingErr }

func (f *fakeJournal) Close() error {
	f.closed = true
	return nil
}

func TestRepository_FansOutWrites(t *testing.T) {
	primary, mirror := &fakeJournal{}, &fakeJournal{}
	repo, err := NewRepository(primary, mirror)
	require.NoError(t, err)

	receipt := domain.TransactionReceipt{ChainID: 122, Hash: "0xab", Status: domain.TxStatusSuccess}
	require.NoError(t, repo.StoreReceipt(context.Background(), receipt))
	assert.Len(t, primary.stored, 1)
	assert.Len(t, mirror.stored, 1)

	got, err := repo.QueryReceipts(context.Background(), application.ReceiptQueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, primary.stored, got)

	require.NoError(t, repo.Close())
	assert.True(t, primary.closed)
	assert.True(t, mirror.closed)
}

func TestRepository_MirrorFailureTolerated(t *testing.T) {
	primary, mirror := &fakeJournal{}, &fakeJournal{storeErr: errors.New("clickhouse down"), pingErr: errors.New("down")}
	repo, err := NewRepository(primary, mirror)
	require.NoError(t, err)

	require.NoError(t, repo.StoreReceipt(context.Background(), domain.TransactionReceipt{Hash: "0xab"}))
	assert.Len(t, primary.stored, 1)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestRepository_PrimaryFailureReturned(t *testing.T) {
	primaryErr := errors.New("disk full")
	primary, mirror := &fakeJournal{storeErr: primaryErr}, &fakeJournal{}
	repo, err := NewRepository(primary, mirror)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.StoreReceipt(context.Background(), domain.TransactionReceipt{Hash: "0xab"}), primaryErr)
	assert.Empty(t, mirror.stored)

	_, err = NewRepository(nil, nil)
	assert.Error(t, err)
}
