package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IsValidTxHash reports whether hash is 0x followed by 64 hex characters.
func IsValidTxHash(hash string) bool {
	if len(hash) != 2+2*common.HashLength {
		return false
	}
	_, err := hexutil.Decode(hash)
	return err == nil
}

// IsValidAddress reports whether address is 0x followed by 40 hex characters.
func IsValidAddress(address string) bool {
	return len(address) == 2+2*common.AddressLength && common.IsHexAddress(address)
}
