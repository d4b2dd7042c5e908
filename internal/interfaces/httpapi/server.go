package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"
)

const (
	maxStatusRetries = 10
	maxWaitTimeout   = 10 * time.Minute
	maxBodyBytes     = 1 << 20
)

type ReceiptTracker interface {
	Check(ctx context.Context, hash string, retries int) (domain.TransactionReceipt, bool, error)
	Wait(ctx context.Context, hash string, maxWait time.Duration) (domain.TransactionReceipt, error)
}

type Estimator interface {
	Estimate(ctx context.Context, call domain.CallRequest) (domain.GasEstimate, error)
	EstimateDeploy(ctx context.Context, req application.DeployRequest) (domain.GasEstimate, error)
	EstimateMint(ctx context.Context, req application.MintRequest) (domain.GasEstimate, error)
}

type RPCStatus interface {
	ChainID(ctx context.Context) (uint64, error)
}

type ReceiptStore interface {
	QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error)
	Ping(ctx context.Context) error
}

// Chain bundles everything the API serves for one network.
type Chain struct {
	Network   domain.Network
	Tracker   ReceiptTracker
	Estimator Estimator
	RPC       RPCStatus
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	chains         map[uint64]Chain
	order          []uint64
	defaultChainID uint64
	store          ReceiptStore
	metrics        *Metrics
	buildInfo      BuildInfo
}

// NewServer requires the default chain among chains. The store is optional;
// without it /receipts answers 503.
func NewServer(chains []Chain, defaultChainID uint64, store ReceiptStore, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if len(chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		chains:         make(map[uint64]Chain, len(chains)),
		defaultChainID: defaultChainID,
		store:          store,
		metrics:        metrics,
		buildInfo:      buildInfo,
	}
	for _, chain := range chains {
		if chain.Tracker == nil || chain.Estimator == nil || chain.RPC == nil {
			return nil, fmt.Errorf("chain %d: http server dependencies must not be nil", chain.Network.ChainID)
		}
		if _, dup := s.chains[chain.Network.ChainID]; dup {
			return nil, fmt.Errorf("chain %d configured twice", chain.Network.ChainID)
		}
		s.chains[chain.Network.ChainID] = chain
		s.order = append(s.order, chain.Network.ChainID)
	}
	if _, ok := s.chains[defaultChainID]; !ok {
		return nil, fmt.Errorf("default chain %d is not configured", defaultChainID)
	}
	return s, nil
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /networks", s.handleNetworks)
	mux.HandleFunc("GET /transactions/{hash}/status", s.handleStatus)
	mux.HandleFunc("GET /transactions/{hash}/wait", s.handleWait)
	mux.HandleFunc("POST /estimate-gas", s.handleEstimateGas)
	mux.HandleFunc("POST /estimate-deploy-gas", s.handleEstimateDeploy)
	mux.HandleFunc("POST /estimate-mint-gas", s.handleEstimateMint)
	mux.HandleFunc("GET /receipts", s.handleReceipts)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "db not ready")
			return
		}
	}
	chain := s.chains[s.defaultChainID]
	chainID, err := chain.RPC.ChainID(ctx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	if chainID != chain.Network.ChainID {
		respondError(w, http.StatusServiceUnavailable, fmt.Sprintf("rpc reports chain %d, expected %d", chainID, chain.Network.ChainID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	fmt.Fprintf(w, "memeforge_uptime_seconds %.0f\n", time.Since(snap.StartTime).Seconds())
	for _, chain := range snap.Chains {
		label := fmt.Sprintf(`{chain_id="%d"}`, chain.ChainID)
		fmt.Fprintf(w, "memeforge_poll_attempts_total%s %d\n", label, chain.PollAttempts)
		fmt.Fprintf(w, "memeforge_provider_errors_total%s %d\n", label, chain.ProviderErrors)
		fmt.Fprintf(w, "memeforge_receipts_success_total%s %d\n", label, chain.Confirmed)
		fmt.Fprintf(w, "memeforge_receipts_failed_total%s %d\n", label, chain.Failed)
		fmt.Fprintf(w, "memeforge_wait_timeouts_total%s %d\n", label, chain.Timeouts)
		fmt.Fprintf(w, "memeforge_last_confirmed_block%s %d\n", label, chain.LastBlock)
	}
	for _, estimate := range snap.Estimates {
		fmt.Fprintf(w, "memeforge_estimates_total{kind=%q,result=\"ok\"} %d\n", estimate.Kind, estimate.Succeeded)
		fmt.Fprintf(w, "memeforge_estimates_total{kind=%q,result=\"error\"} %d\n", estimate.Kind, estimate.Failed)
	}
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	networks := make([]domain.Network, 0, len(s.order))
	for _, chainID := range s.order {
		networks = append(networks, s.chains[chainID].Network)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"default":  s.defaultChainID,
		"networks": networks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !domain.IsValidTxHash(hash) {
		respondError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}
	chain, err := s.chainFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	retries := 0
	if raw := r.URL.Query().Get("retries"); raw != "" {
		retries, err = strconv.Atoi(raw)
		if err != nil || retries < 1 || retries > maxStatusRetries {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("retries must be between 1 and %d", maxStatusRetries))
			return
		}
	}

	receipt, ok, err := chain.Tracker.Check(r.Context(), hash, retries)
	if err != nil {
		respondPollError(w, hash, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusAccepted, map[string]string{
			"hash":   hash,
			"status": string(domain.TxStatusPending),
		})
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !domain.IsValidTxHash(hash) {
		respondError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}
	chain, err := s.chainFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		timeout, err = parseTimeout(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	receipt, err := chain.Tracker.Wait(r.Context(), hash, timeout)
	if err != nil {
		respondPollError(w, hash, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

type estimateGasRequest struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Data    string          `json:"data"`
	Value   string          `json:"value"`
	ChainID json.RawMessage `json:"chainId"`
}

func (s *Server) handleEstimateGas(w http.ResponseWriter, r *http.Request) {
	var req estimateGasRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	chain, err := s.chainFromBody(req.ChainID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, err := req.callRequest()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	estimate, err := chain.Estimator.Estimate(r.Context(), call)
	s.metrics.ObserveEstimate("call", err)
	if err != nil {
		respondEstimateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estimate)
}

func (req estimateGasRequest) callRequest() (domain.CallRequest, error) {
	if req.From != "" && !domain.IsValidAddress(req.From) {
		return domain.CallRequest{}, errors.New("invalid from address")
	}
	if req.To != "" && !domain.IsValidAddress(req.To) {
		return domain.CallRequest{}, errors.New("invalid to address")
	}
	if req.To == "" && req.Data == "" {
		return domain.CallRequest{}, errors.New("to or data is required")
	}
	call := domain.CallRequest{From: req.From, To: req.To, Data: req.Data}
	if req.Value != "" {
		value, ok := parseValue(req.Value)
		if !ok {
			return domain.CallRequest{}, errors.New("invalid value")
		}
		call.Value = value
	}
	return call, nil
}

type estimateDeployRequest struct {
	ContractName string          `json:"contractName"`
	Symbol       string          `json:"symbol"`
	BaseURI      string          `json:"baseURI"`
	ChainID      json.RawMessage `json:"chainId"`
}

func (s *Server) handleEstimateDeploy(w http.ResponseWriter, r *http.Request) {
	var req estimateDeployRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	chain, err := s.chainFromBody(req.ChainID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	estimate, err := chain.Estimator.EstimateDeploy(r.Context(), application.DeployRequest{
		Name:    req.ContractName,
		Symbol:  req.Symbol,
		BaseURI: req.BaseURI,
	})
	s.metrics.ObserveEstimate("deploy", err)
	if err != nil {
		respondEstimateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estimate)
}

type estimateMintRequest struct {
	ContractAddress  string          `json:"contractAddress"`
	RecipientAddress string          `json:"recipientAddress"`
	TokenURI         string          `json:"tokenURI"`
	ChainID          json.RawMessage `json:"chainId"`
}

func (s *Server) handleEstimateMint(w http.ResponseWriter, r *http.Request) {
	var req estimateMintRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	chain, err := s.chainFromBody(req.ChainID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for name, address := range map[string]string{"contractAddress": req.ContractAddress, "recipientAddress": req.RecipientAddress} {
		if address != "" && !domain.IsValidAddress(address) {
			respondError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
	}
	estimate, err := chain.Estimator.EstimateMint(r.Context(), application.MintRequest{
		Contract:  req.ContractAddress,
		Recipient: req.RecipientAddress,
		TokenURI:  req.TokenURI,
	})
	s.metrics.ObserveEstimate("mint", err)
	if err != nil {
		respondEstimateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estimate)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "receipt journal disabled")
		return
	}
	filter, err := parseReceiptFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipts, err := s.store.QueryReceipts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if receipts == nil {
		receipts = []domain.TransactionReceipt{}
	}
	respondJSON(w, http.StatusOK, receipts)
}

func (s *Server) chainFromQuery(r *http.Request) (Chain, error) {
	raw := r.URL.Query().Get("chain_id")
	if raw == "" {
		return s.chains[s.defaultChainID], nil
	}
	chainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return Chain{}, errors.New("invalid chain_id")
	}
	return s.chain(chainID)
}

// chainFromBody accepts chainId as a JSON number or a decimal string.
func (s *Server) chainFromBody(raw json.RawMessage) (Chain, error) {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if trimmed == "" || trimmed == "null" {
		return s.chains[s.defaultChainID], nil
	}
	chainID, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return Chain{}, errors.New("invalid chainId")
	}
	return s.chain(chainID)
}

func (s *Server) chain(chainID uint64) (Chain, error) {
	chain, ok := s.chains[chainID]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain %d", chainID)
	}
	return chain, nil
}

func parseReceiptFilter(r *http.Request) (application.ReceiptQueryFilter, error) {
	query := r.URL.Query()
	var filter application.ReceiptQueryFilter
	if raw := query.Get("chain_id"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, errors.New("invalid chain_id")
		}
		filter.ChainID = &chainID
	}
	if address := query.Get("address"); address != "" {
		if !domain.IsValidAddress(address) {
			return filter, errors.New("invalid address")
		}
		filter.Address = strings.ToLower(address)
	}
	switch status := domain.TxStatus(query.Get("status")); status {
	case "", domain.TxStatusSuccess, domain.TxStatusFailed:
		filter.Status = status
	default:
		return filter, errors.New("invalid status")
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// parseTimeout accepts a Go duration ("90s") or a number of seconds.
func parseTimeout(raw string) (time.Duration, error) {
	timeout, err := time.ParseDuration(raw)
	if err != nil {
		seconds, convErr := strconv.ParseUint(raw, 10, 32)
		if convErr != nil {
			return 0, errors.New("invalid timeout")
		}
		timeout = time.Duration(seconds) * time.Second
	}
	if timeout <= 0 || timeout > maxWaitTimeout {
		return 0, fmt.Errorf("timeout must be between 1s and %s", maxWaitTimeout)
	}
	return timeout, nil
}

// parseValue reads a wei amount as a 0x-prefixed hex or a decimal string.
func parseValue(raw string) (*big.Int, bool) {
	base := 10
	digits := raw
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		base = 16
		digits = raw[2:]
	}
	value, ok := new(big.Int).SetString(digits, base)
	if !ok || value.Sign() < 0 {
		return nil, false
	}
	return value, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func respondPollError(w http.ResponseWriter, hash string, err error) {
	switch {
	case errors.Is(err, application.ErrTimeout):
		respondJSON(w, http.StatusGatewayTimeout, map[string]string{
			"hash":  hash,
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrMalformedResponse):
		respondError(w, http.StatusBadGateway, "malformed provider response")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		respondError(w, http.StatusInternalServerError, "status check failed")
	}
}

func respondEstimateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrEstimationFailed):
		respondError(w, http.StatusBadGateway, application.ErrEstimationFailed.Error())
	default:
		respondError(w, http.StatusInternalServerError, "failed to estimate gas")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
