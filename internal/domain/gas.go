package domain

import "math/big"

// CallRequest is the message passed to eth_estimateGas.
type CallRequest struct {
	From  string
	To    string
	Data  string
	Value *big.Int
}

// GasEstimate is a priced gas estimate. GasPrice is in gwei.
type GasEstimate struct {
	EstimatedGas       uint64 `json:"estimatedGas"`
	GasPrice           string `json:"gasPrice"`
	EstimatedCostInWei string `json:"estimatedCostInWei"`
	EstimatedCostInEth string `json:"estimatedCostInEth"`
}
