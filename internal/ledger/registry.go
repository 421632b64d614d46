package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/chainguard/internal/metrics"
)

// Minimal registry ABI: publish a report hash, read the latest entry and the
// total count for a target address.
const registryABI = `[
	{"inputs":[{"name":"target","type":"address"},{"name":"score","type":"uint256"},{"name":"reportHash","type":"bytes32"}],"name":"submitReport","outputs":[],"type":"function"},
	{"inputs":[{"name":"target","type":"address"}],"name":"latestReport","outputs":[{"name":"score","type":"uint256"},{"name":"reportHash","type":"bytes32"},{"name":"submittedAt","type":"uint256"}],"type":"function"},
	{"inputs":[{"name":"target","type":"address"}],"name":"reportCount","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const (
	// DefaultGasLimit when estimation fails.
	DefaultGasLimit = uint64(150000)

	// ConfirmationTimeout bounds the post-send receipt poll. A submission
	// still pending after this is reported as unconfirmed, not failed.
	ConfirmationTimeout = 30 * time.Second

	confirmationPollInterval = 2 * time.Second
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Config for the registry submitter.
type Config struct {
	RPCURL     string
	PrivateKey string // hex, 0x prefix optional
	ChainID    int64
	Contract   string
}

// Option configures the registry client.
type Option func(*Registry)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(r *Registry) {
		r.client = client
	}
}

// Registry submits report hashes to an on-chain registry contract.
type Registry struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	contract   common.Address
	abi        abi.ABI
	logger     *slog.Logger
}

var _ Client = (*Registry)(nil)

// NewRegistry creates a registry client from config.
func NewRegistry(cfg Config, logger *slog.Logger, opts ...Option) (*Registry, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse registry ABI: %w", err)
	}

	r := &Registry{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.Contract),
		abi:        parsedABI,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		r.client = client
	}
	return r, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return errors.New("ledger: chain ID required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return fmt.Errorf("%w: registry contract %q", ErrInvalidAddress, cfg.Contract)
	}
	return nil
}

// Address returns the submitter's address.
func (r *Registry) Address() string {
	return r.address.Hex()
}

// Submit hashes the report, publishes it via submitReport, and waits a
// bounded time for the transaction to be mined.
func (r *Registry) Submit(ctx context.Context, report Report) (*Receipt, error) {
	if !common.IsHexAddress(report.Target) {
		return nil, fmt.Errorf("%w: target %q", ErrInvalidAddress, report.Target)
	}

	reportHash, err := report.Hash()
	if err != nil {
		return nil, err
	}
	var hashBytes [32]byte
	raw, err := hex.DecodeString(reportHash)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("ledger: malformed report hash %q", reportHash)
	}
	copy(hashBytes[:], raw)

	data, err := r.abi.Pack("submitReport",
		common.HexToAddress(report.Target), big.NewInt(int64(report.Score)), hashBytes)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack submitReport: %w", err)
	}

	nonce, err := r.client.PendingNonceAt(ctx, r.address)
	if err != nil {
		metrics.LedgerSubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: nonce: %v", ErrSubmitFailed, err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		metrics.LedgerSubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: gas price: %v", ErrSubmitFailed, err)
	}
	gasLimit, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From: r.address,
		To:   &r.contract,
		Data: data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, r.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrSubmitFailed, err)
	}
	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		metrics.LedgerSubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: send (tx %s): %v", ErrSubmitFailed, signedTx.Hash().Hex(), err)
	}

	receipt := &Receipt{
		Success:    true,
		TxHash:     signedTx.Hash().Hex(),
		ReportHash: reportHash,
	}

	block, err := r.waitMined(ctx, signedTx.Hash())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("submission unconfirmed within timeout",
			"tx", receipt.TxHash, "target", report.Target)
	case err != nil:
		metrics.LedgerSubmissionsTotal.WithLabelValues("reverted").Inc()
		receipt.Success = false
		receipt.Err = err.Error()
		return receipt, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	default:
		receipt.BlockNumber = block
	}

	metrics.LedgerSubmissionsTotal.WithLabelValues("success").Inc()
	r.logger.Info("report submitted",
		"target", report.Target,
		"score", report.Score,
		"tx", receipt.TxHash,
		"block", receipt.BlockNumber,
	)
	return receipt, nil
}

// waitMined polls for the receipt until mined or the timeout elapses.
func (r *Registry) waitMined(ctx context.Context, hash common.Hash) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == 0 {
				return 0, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return receipt.BlockNumber.Uint64(), nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Latest reads the most recent registry entry for an address.
func (r *Registry) Latest(ctx context.Context, address string) (*Receipt, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	data, err := r.abi.Pack("latestReport", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("ledger: pack latestReport: %w", err)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: call latestReport: %w", err)
	}
	vals, err := r.abi.Unpack("latestReport", out)
	if err != nil || len(vals) != 3 {
		return nil, fmt.Errorf("ledger: unpack latestReport: %w", err)
	}
	hash, ok := vals[1].([32]byte)
	if !ok {
		return nil, errors.New("ledger: unexpected latestReport hash type")
	}
	submittedAt, ok := vals[2].(*big.Int)
	if !ok || submittedAt.Sign() == 0 {
		return nil, ErrNoReports
	}
	return &Receipt{
		Success:    true,
		ReportHash: hex.EncodeToString(hash[:]),
	}, nil
}

// Count reads the number of registry entries for an address.
func (r *Registry) Count(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	data, err := r.abi.Pack("reportCount", common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("ledger: pack reportCount: %w", err)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: call reportCount: %w", err)
	}
	vals, err := r.abi.Unpack("reportCount", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("ledger: unpack reportCount: %w", err)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return 0, errors.New("ledger: unexpected reportCount type")
	}
	return n.Uint64(), nil
}

// Close closes the underlying client connection.
func (r *Registry) Close() error {
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
