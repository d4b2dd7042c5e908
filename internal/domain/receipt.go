package domain

import "time"

// TxStatus is the normalized outcome of a transaction.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
	// TxStatusPending marks the absence of a receipt. The poller never returns it.
	TxStatusPending TxStatus = "pending"
)

// StatusFromRaw maps the provider's status quantity to a TxStatus.
func StatusFromRaw(raw string) TxStatus {
	if raw == "0x1" {
		return TxStatusSuccess
	}
	return TxStatusFailed
}

// TransactionReceipt is the normalized view of a mined transaction.
type TransactionReceipt struct {
	ChainID     uint64    `json:"chainId,omitempty"`
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to,omitempty"`
	Value       string    `json:"value"`
	GasUsed     string    `json:"gasUsed"`
	GasPrice    string    `json:"gasPrice"`
	Status      TxStatus  `json:"status"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
}
