package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/config"
	"memeforge/internal/domain"
	"memeforge/internal/infrastructure/ethrpc"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfg        config.Config
	rpcURL     string
	chainID    uint64
	rpcTimeout time.Duration
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := &rootOptions{cfg: cfg, chainID: cfg.DefaultChainID, rpcTimeout: cfg.RPCTimeout}
	root := &cobra.Command{
		Use:          "txwait",
		Short:        "Check, wait for and price transactions over JSON-RPC",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.rpcURL, "rpc", "", "JSON-RPC endpoint (defaults to the configured network)")
	root.PersistentFlags().Uint64Var(&opts.chainID, "chain-id", cfg.DefaultChainID, "chain id of the network to query")
	root.PersistentFlags().DurationVar(&opts.rpcTimeout, "rpc-timeout", cfg.RPCTimeout, "per-request RPC timeout")

	root.AddCommand(
		newStatusCmd(opts),
		newWaitCmd(opts),
		newEstimateCmd(opts),
	)
	return root
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		retries    int
		retryDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <tx-hash>",
		Short: "Look up a transaction receipt with a bounded number of attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			poller, err := opts.poller(application.PollConfig{MaxRetries: retries, RetryDelay: retryDelay})
			if err != nil {
				return err
			}
			receipt, ok, err := poller.Status(cmd.Context(), hash, retries)
			if err != nil {
				return err
			}
			if !ok {
				return printJSON(cmd, map[string]string{"hash": hash, "status": string(domain.TxStatusPending)})
			}
			return printJSON(cmd, receipt)
		},
	}
	cmd.Flags().IntVar(&retries, "retries", opts.cfg.MaxRetries, "number of receipt lookups")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", opts.cfg.RetryDelay, "pause between lookups")
	return cmd
}

func newWaitCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <tx-hash>",
		Short: "Poll until the transaction is mined or the timeout elapses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			poller, err := opts.poller(application.PollConfig{MaxWaitTime: timeout, PollInterval: pollInterval})
			if err != nil {
				return err
			}
			receipt, err := poller.Wait(cmd.Context(), hash, timeout)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", opts.cfg.WaitTimeout, "maximum time to wait")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", opts.cfg.PollInterval, "pause between polls")
	return cmd
}

func newEstimateCmd(opts *rootOptions) *cobra.Command {
	var from, to, data, value string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate gas and cost for a call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			call := domain.CallRequest{From: from, To: to, Data: data}
			for name, address := range map[string]string{"from": from, "to": to} {
				if address != "" && !domain.IsValidAddress(address) {
					return fmt.Errorf("invalid --%s address %q", name, address)
				}
			}
			if value != "" {
				parsed, ok := new(big.Int).SetString(value, 0)
				if !ok || parsed.Sign() < 0 {
					return fmt.Errorf("invalid --value %q", value)
				}
				call.Value = parsed
			}
			estimator, err := opts.estimator()
			if err != nil {
				return err
			}
			estimate, err := estimator.Estimate(cmd.Context(), call)
			if err != nil {
				return err
			}
			return printJSON(cmd, estimate)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender address")
	cmd.Flags().StringVar(&to, "to", "", "recipient or contract address")
	cmd.Flags().StringVar(&data, "data", "", "0x-prefixed call data")
	cmd.Flags().StringVar(&value, "value", "", "wei value, decimal or 0x hex")

	cmd.AddCommand(newEstimateDeployCmd(opts), newEstimateMintCmd(opts))
	return cmd
}

func newEstimateDeployCmd(opts *rootOptions) *cobra.Command {
	var req application.DeployRequest
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Estimate an NFT collection deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			estimator, err := opts.estimator()
			if err != nil {
				return err
			}
			estimate, err := estimator.EstimateDeploy(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, estimate)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "collection name")
	cmd.Flags().StringVar(&req.Symbol, "symbol", "", "collection symbol")
	cmd.Flags().StringVar(&req.BaseURI, "base-uri", "", "metadata base URI")
	return cmd
}

func newEstimateMintCmd(opts *rootOptions) *cobra.Command {
	var req application.MintRequest
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Estimate minting one token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			estimator, err := opts.estimator()
			if err != nil {
				return err
			}
			estimate, err := estimator.EstimateMint(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, estimate)
		},
	}
	cmd.Flags().StringVar(&req.Contract, "contract", "", "collection contract address")
	cmd.Flags().StringVar(&req.Recipient, "recipient", "", "token recipient address")
	cmd.Flags().StringVar(&req.TokenURI, "token-uri", "", "token metadata URI")
	return cmd
}

func (o *rootOptions) client() (*ethrpc.Client, error) {
	url := strings.TrimSpace(o.rpcURL)
	if url == "" {
		network, ok := o.cfg.Network(o.chainID)
		if !ok {
			return nil, fmt.Errorf("no rpc configured for chain %d; pass --rpc", o.chainID)
		}
		url = network.RPCURL
	}
	return ethrpc.NewClient(ethrpc.Config{URL: url, ChainID: o.chainID, Timeout: o.rpcTimeout})
}

func (o *rootOptions) poller(pollCfg application.PollConfig) (*application.Poller, error) {
	client, err := o.client()
	if err != nil {
		return nil, err
	}
	return application.NewPoller(client, application.SystemClock{}, nil, pollCfg)
}

func (o *rootOptions) estimator() (*application.GasEstimator, error) {
	client, err := o.client()
	if err != nil {
		return nil, err
	}
	return application.NewGasEstimator(client)
}

func parseHash(raw string) (string, error) {
	if !domain.IsValidTxHash(raw) {
		return "", errors.New("transaction hash must be 0x followed by 64 hex characters")
	}
	return raw, nil
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
