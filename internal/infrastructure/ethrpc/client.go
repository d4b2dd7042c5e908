package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memeforge/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrProviderUnreachable = domain.ErrProviderUnreachable
	ErrMalformedResponse   = domain.ErrMalformedResponse
)

// Every request carries the same id; requests are never multiplexed.
const requestID = 1

const defaultTimeout = 15 * time.Second

type Client struct {
	url        string
	chainID    uint64
	httpClient *http.Client
}

type Config struct {
	URL        string
	ChainID    uint64
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		url:        cfg.URL,
		chainID:    cfg.ChainID,
		httpClient: httpClient,
	}, nil
}

func (c *Client) URL() string {
	return c.url
}

// TransactionReceipt fetches and normalizes the receipt for hash. The bool is
// false while the transaction is not mined. Timestamp is left zero.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (domain.TransactionReceipt, bool, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", []any{hash})
	if err != nil {
		return domain.TransactionReceipt{}, false, err
	}
	if isNull(raw) {
		return domain.TransactionReceipt{}, false, nil
	}
	var receipt rpcReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return domain.TransactionReceipt{}, false, fmt.Errorf("%w: receipt: %v", ErrMalformedResponse, err)
	}
	parsed, err := receipt.normalize(c.chainID, hash)
	if err != nil {
		return domain.TransactionReceipt{}, false, err
	}
	return parsed, true, nil
}

// GasPrice returns the current price per gas unit in wei. A missing result
// is reported as 1 wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := c.call(ctx, "eth_gasPrice", []any{})
	if err != nil {
		return nil, err
	}
	var result string
	if !isNull(raw) {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("%w: gas price: %v", ErrMalformedResponse, err)
		}
	}
	return parseGasPrice(result)
}

func (c *Client) EstimateGas(ctx context.Context, call domain.CallRequest) (uint64, error) {
	msg := map[string]any{}
	if call.From != "" {
		msg["from"] = call.From
	}
	if call.To != "" {
		msg["to"] = call.To
	}
	if call.Data != "" {
		msg["data"] = call.Data
	}
	if call.Value != nil {
		msg["value"] = hexutil.EncodeBig(call.Value)
	}
	raw, err := c.call(ctx, "eth_estimateGas", []any{msg})
	if err != nil {
		return 0, err
	}
	var result string
	if isNull(raw) {
		return 0, fmt.Errorf("%w: gas estimate is empty", ErrMalformedResponse)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("%w: gas estimate: %v", ErrMalformedResponse, err)
	}
	gas, err := parseHexUint(result)
	if err != nil {
		return 0, fmt.Errorf("%w: gas estimate %q: %v", ErrMalformedResponse, result, err)
	}
	return gas, nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "eth_chainId", []any{})
	if err != nil {
		return 0, err
	}
	var result string
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("%w: chain id: %v", ErrMalformedResponse, err)
	}
	id, err := parseHexUint(result)
	if err != nil {
		return 0, fmt.Errorf("%w: chain id %q: %v", ErrMalformedResponse, result, err)
	}
	return id, nil
}

type rpcReceipt struct {
	TransactionHash   string  `json:"transactionHash"`
	From              string  `json:"from"`
	To                *string `json:"to"`
	Value             string  `json:"value"`
	GasUsed           string  `json:"gasUsed"`
	GasPrice          string  `json:"gasPrice"`
	EffectiveGasPrice string  `json:"effectiveGasPrice"`
	Status            string  `json:"status"`
	BlockNumber       string  `json:"blockNumber"`
}

func (r rpcReceipt) normalize(chainID uint64, requested string) (domain.TransactionReceipt, error) {
	gasUsed, err := parseHexUint(r.GasUsed)
	if err != nil {
		return domain.TransactionReceipt{}, fmt.Errorf("%w: gasUsed %q: %v", ErrMalformedResponse, r.GasUsed, err)
	}
	blockNumber, err := parseHexUint(r.BlockNumber)
	if err != nil {
		return domain.TransactionReceipt{}, fmt.Errorf("%w: blockNumber %q: %v", ErrMalformedResponse, r.BlockNumber, err)
	}
	rawPrice := r.GasPrice
	if rawPrice == "" {
		rawPrice = r.EffectiveGasPrice
	}
	gasPrice, err := parseGasPrice(rawPrice)
	if err != nil {
		return domain.TransactionReceipt{}, err
	}
	value, err := normalizeValue(r.Value)
	if err != nil {
		return domain.TransactionReceipt{}, err
	}

	hash := r.TransactionHash
	if hash == "" {
		hash = requested
	}
	to := ""
	if r.To != nil {
		to = *r.To
	}
	return domain.TransactionReceipt{
		ChainID:     chainID,
		Hash:        hash,
		From:        r.From,
		To:          to,
		Value:       value,
		GasUsed:     strconv.FormatUint(gasUsed, 10),
		GasPrice:    domain.FormatGwei(gasPrice),
		Status:      domain.StatusFromRaw(r.Status),
		BlockNumber: blockNumber,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is the error object of a JSON-RPC reply.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	ctx, span := otel.Tracer("memeforge/ethrpc").Start(ctx, "ethrpc."+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("rpc.method", method))
	if c.chainID != 0 {
		span.SetAttributes(attribute.Int64("chain.id", int64(c.chainID)))
	}

	result, err := c.do(ctx, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *Client) do(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %w: rpc status %d", method, ErrProviderUnreachable, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", method, ErrMalformedResponse, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, ErrProviderUnreachable, decoded.Error)
	}
	return decoded.Result, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseGasPrice treats an empty quantity as 1 wei so later cost divisions
// never see zero from a missing field.
func parseGasPrice(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return big.NewInt(1), nil
	}
	price, err := parseHexBig(value)
	if err != nil {
		return nil, fmt.Errorf("%w: gasPrice %q: %v", ErrMalformedResponse, value, err)
	}
	return price, nil
}

func normalizeValue(value string) (string, error) {
	if value == "" {
		return "0", nil
	}
	parsed, err := parseHexBig(value)
	if err != nil {
		return "", fmt.Errorf("%w: value %q: %v", ErrMalformedResponse, value, err)
	}
	return parsed.String(), nil
}

// Quantities must be 0x-prefixed hex without leading zeros.
func parseHexUint(value string) (uint64, error) {
	return hexutil.DecodeUint64(value)
}

func parseHexBig(value string) (*big.Int, error) {
	return hexutil.DecodeBig(value)
}
