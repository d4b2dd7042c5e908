package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

var (
	gweiDivisor  = big.NewInt(params.GWei)
	etherDivisor = big.NewInt(params.Ether)
)

// FormatGwei renders a wei amount in gwei with two decimals.
func FormatGwei(wei *big.Int) string {
	return formatScaled(wei, gweiDivisor, 2)
}

// FormatEther renders a wei amount in the native unit with six decimals.
func FormatEther(wei *big.Int) string {
	return formatScaled(wei, etherDivisor, 6)
}

func formatScaled(value, divisor *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	return new(big.Rat).SetFrac(value, divisor).FloatString(decimals)
}
