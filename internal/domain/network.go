package domain

// Network describes an EVM chain the service can query.
type Network struct {
	ChainID  uint64 `json:"chainId"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	RPCURL   string `json:"rpc"`
	Explorer string `json:"explorer"`
}

const (
	FuseMainnetChainID uint64 = 122
	FuseSparkChainID   uint64 = 123
)

// DefaultNetworks returns the built-in Fuse networks.
func DefaultNetworks() []Network {
	return []Network{
		{
			ChainID:  FuseMainnetChainID,
			Name:     "Fuse Mainnet",
			Symbol:   "FUSE",
			RPCURL:   "https://rpc.fuse.io",
			Explorer: "https://explorer.fuse.io",
		},
		{
			ChainID:  FuseSparkChainID,
			Name:     "Fuse Testnet (Spark)",
			Symbol:   "SPARK",
			RPCURL:   "https://rpc.fusespark.io",
			Explorer: "https://explorer.fusespark.io",
		},
	}
}
