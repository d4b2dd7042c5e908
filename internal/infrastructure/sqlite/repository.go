package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository journals confirmed receipts in a local sqlite file.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chain_id INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			value TEXT NOT NULL,
			gas_used TEXT NOT NULL,
			gas_price TEXT NOT NULL,
			status TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			observed_at INTEGER NOT NULL,
			UNIQUE(chain_id, tx_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS receipts_from_idx ON receipts (chain_id, from_addr)`,
		`CREATE INDEX IF NOT EXISTS receipts_to_idx ON receipts (chain_id, to_addr)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// StoreReceipt keeps the first observation of a receipt; repeats are ignored.
func (r *Repository) StoreReceipt(ctx context.Context, receipt domain.TransactionReceipt) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO receipts (chain_id, tx_hash, from_addr, to_addr, value, gas_used, gas_price, status, block_number, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, tx_hash) DO NOTHING`,
		receipt.ChainID,
		strings.ToLower(receipt.Hash),
		strings.ToLower(receipt.From),
		strings.ToLower(receipt.To),
		receipt.Value,
		receipt.GasUsed,
		receipt.GasPrice,
		string(receipt.Status),
		receipt.BlockNumber,
		receipt.Timestamp.UnixMilli(),
	)
	return err
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error) {
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

	query := `SELECT chain_id, tx_hash, from_addr, to_addr, value, gas_used, gas_price, status, block_number, observed_at FROM receipts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY observed_at DESC, id DESC LIMIT ?"
	args = append(args, filter.NormalizedLimit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.TransactionReceipt
	for rows.Next() {
		var receipt domain.TransactionReceipt
		var status string
		var observedAt int64
		if err := rows.Scan(&receipt.ChainID, &receipt.Hash, &receipt.From, &receipt.To, &receipt.Value, &receipt.GasUsed, &receipt.GasPrice, &status, &receipt.BlockNumber, &observedAt); err != nil {
			return nil, err
		}
		receipt.Status = domain.TxStatus(status)
		receipt.Timestamp = time.UnixMilli(observedAt).UTC()
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
