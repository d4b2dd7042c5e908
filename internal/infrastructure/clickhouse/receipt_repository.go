package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ReceiptRepository mirrors confirmed receipts into ClickHouse for
// analytics. Duplicates collapse on (chain_id, tx_hash) at merge time,
// keeping the first observation, and queries read with FINAL.
type ReceiptRepository struct {
	db   *sql.DB
	conn clickhouse.Conn
}

func NewRepository(dsn string) (*ReceiptRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	return &ReceiptRepository{db: db, conn: conn}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS receipts (
		chain_id UInt64,
		tx_hash String,
		from_addr String,
		to_addr String,
		value String,
		gas_used UInt64,
		gas_price String,
		status LowCardinality(String),
		block_number UInt64,
		observed_at DateTime64(3, 'UTC'),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PARTITION BY chain_id
	ORDER BY (chain_id, tx_hash)`)
	return err
}

func (r *ReceiptRepository) StoreReceipt(ctx context.Context, receipt domain.TransactionReceipt) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasUsed, err := parseGasUsed(receipt.GasUsed)
	if err != nil {
		return err
	}
	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO receipts (chain_id, tx_hash, from_addr, to_addr, value, gas_used, gas_price, status, block_number, observed_at, version)`)
	if err != nil {
		return err
	}
	if err := batch.Append(
		receipt.ChainID,
		strings.ToLower(receipt.Hash),
		strings.ToLower(receipt.From),
		strings.ToLower(receipt.To),
		receipt.Value,
		gasUsed,
		receipt.GasPrice,
		string(receipt.Status),
		receipt.BlockNumber,
		receipt.Timestamp.UTC(),
		firstSeenVersion(receipt.Timestamp),
	); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (r *ReceiptRepository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Address != "" {
		address := strings.ToLower(filter.Address)
		clauses = append(clauses, "(from_addr = ? OR to_addr = ?)")
		args = append(args, address, address)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT chain_id, tx_hash, from_addr, to_addr, value, gas_used, gas_price, status, block_number, observed_at FROM receipts FINAL`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY observed_at DESC LIMIT ?"
	args = append(args, filter.NormalizedLimit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.TransactionReceipt
	for rows.Next() {
		var receipt domain.TransactionReceipt
		var gasUsed uint64
		var status string
		if err := rows.Scan(&receipt.ChainID, &receipt.Hash, &receipt.From, &receipt.To, &receipt.Value, &gasUsed, &receipt.GasPrice, &status, &receipt.BlockNumber, &receipt.Timestamp); err != nil {
			return nil, err
		}
		receipt.GasUsed = formatGasUsed(gasUsed)
		receipt.Status = domain.TxStatus(status)
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (r *ReceiptRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *ReceiptRepository) Close() error {
	return errors.Join(r.conn.Close(), r.db.Close())
}
