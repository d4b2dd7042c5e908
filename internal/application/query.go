package application

import "memeforge/internal/domain"

type ReceiptQueryFilter struct {
	ChainID *uint64
	Address string
	Status  domain.TxStatus
	Limit   int
}

// NormalizedLimit clamps Limit to 1..1000, defaulting to 100.
func (f ReceiptQueryFilter) NormalizedLimit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return 100
	}
	return f.Limit
}
