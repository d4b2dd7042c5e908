package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"memeforge/internal/domain"
)

var (
	ErrEstimationFailed = errors.New("failed to estimate gas")
	ErrInvalidRequest   = errors.New("missing required parameters")
)

const (
	deployBaseGas  = 2_500_000
	mintBaseGas    = 150_000
	storageWordGas = 20_000
	storageWord    = 32
)

type GasSource interface {
	EstimateGas(ctx context.Context, call domain.CallRequest) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

type DeployRequest struct {
	Name    string
	Symbol  string
	BaseURI string
}

type MintRequest struct {
	Contract  string
	Recipient string
	TokenURI  string
}

// GasEstimator prices calls with the provider's current gas price. It never
// retries; any provider failure is wrapped in ErrEstimationFailed.
type GasEstimator struct {
	source GasSource
}

func NewGasEstimator(source GasSource) (*GasEstimator, error) {
	if source == nil {
		return nil, errors.New("gas source is required")
	}
	return &GasEstimator{source: source}, nil
}

func (e *GasEstimator) Estimate(ctx context.Context, call domain.CallRequest) (domain.GasEstimate, error) {
	units, err := e.source.EstimateGas(ctx, call)
	if err != nil {
		return domain.GasEstimate{}, fmt.Errorf("%w: %w", ErrEstimationFailed, err)
	}
	return e.priced(ctx, units)
}

// EstimateDeploy prices an ERC721 deployment: a fixed base plus one storage
// word charge per 32 bytes of base URI.
func (e *GasEstimator) EstimateDeploy(ctx context.Context, req DeployRequest) (domain.GasEstimate, error) {
	return e.priced(ctx, deployBaseGas+uriStorageGas(req.BaseURI))
}

func (e *GasEstimator) EstimateMint(ctx context.Context, req MintRequest) (domain.GasEstimate, error) {
	if strings.TrimSpace(req.Contract) == "" || strings.TrimSpace(req.Recipient) == "" || strings.TrimSpace(req.TokenURI) == "" {
		return domain.GasEstimate{}, ErrInvalidRequest
	}
	return e.priced(ctx, mintBaseGas+uriStorageGas(req.TokenURI))
}

func (e *GasEstimator) priced(ctx context.Context, units uint64) (domain.GasEstimate, error) {
	price, err := e.source.GasPrice(ctx)
	if err != nil {
		return domain.GasEstimate{}, fmt.Errorf("%w: %w", ErrEstimationFailed, err)
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(units), price)
	return domain.GasEstimate{
		EstimatedGas:       units,
		GasPrice:           domain.FormatGwei(price),
		EstimatedCostInWei: cost.String(),
		EstimatedCostInEth: domain.FormatEther(cost),
	}, nil
}

func uriStorageGas(uri string) uint64 {
	words := (len(uri) + storageWord - 1) / storageWord
	return uint64(words) * storageWordGas
}
