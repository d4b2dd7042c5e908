package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	driverCfg, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysqldriver.NewConnector(driverCfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// parseDSN forces parseTime and UTC so DATETIME columns scan into time.Time
// regardless of what the operator's DSN says.
func parseDSN(dsn string) (*mysqldriver.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db dsn is required")
	}
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			chain_id BIGINT UNSIGNED NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			from_addr VARCHAR(42) NOT NULL,
			to_addr VARCHAR(42) NOT NULL DEFAULT '',
			value DECIMAL(65,0) NOT NULL,
			gas_used BIGINT UNSIGNED NOT NULL,
			gas_price VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			observed_at DATETIME(3) NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY receipts_unique (chain_id, tx_hash),
			KEY receipts_from_idx (chain_id, from_addr),
			KEY receipts_to_idx (chain_id, to_addr),
			KEY receipts_observed_idx (observed_at)
		)`,
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
	ctx, span := startDBSpan(ctx, "mysql.StoreReceipt",
		attribute.Int64("chain.id", int64(receipt.ChainID)),
		attribute.String("tx.hash", strings.ToLower(receipt.Hash)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	value := receipt.Value
	if value == "" {
		value = "0"
	}
	_, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO receipts (chain_id, tx_hash, from_addr, to_addr, value, gas_used, gas_price, status, block_number, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ChainID,
		strings.ToLower(receipt.Hash),
		strings.ToLower(receipt.From),
		strings.ToLower(receipt.To),
		value,
		receipt.GasUsed,
		receipt.GasPrice,
		string(receipt.Status),
		receipt.BlockNumber,
		receipt.Timestamp.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error) {
	ctx, span := startDBSpan(ctx, "mysql.QueryReceipts")
	defer span.End()
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

	query := `SELECT chain_id, tx_hash, from_addr, to_addr, CAST(value AS CHAR), gas_used, gas_price, status, block_number, observed_at FROM receipts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY observed_at DESC, id DESC LIMIT ?"
	args = append(args, filter.NormalizedLimit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.TransactionReceipt
	for rows.Next() {
		var receipt domain.TransactionReceipt
		var status string
		if err := rows.Scan(&receipt.ChainID, &receipt.Hash, &receipt.From, &receipt.To, &receipt.Value, &receipt.GasUsed, &receipt.GasPrice, &status, &receipt.BlockNumber, &receipt.Timestamp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		receipt.Status = domain.TxStatus(status)
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("receipt.count", len(receipts)))
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

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("memeforge/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
