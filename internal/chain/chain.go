// Package chain reads on-chain state needed by the risk analyzers.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidAddress = errors.New("chain: invalid address")
	ErrRPCConnection  = errors.New("chain: RPC connection failed")
)

// Minimal Uniswap V2 ABI fragments for trading-pair detection.
const factoryABI = `[
	{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"}
]`

const pairABI = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"type":"function"}
]`

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// EthClient abstracts go-ethereum client for testing.
type EthClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Pair describes a detected DEX trading pair for a token.
type Pair struct {
	Address  string
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Client reads chain state through an RPC node.
type Client struct {
	eth     EthClient
	factory common.Address
	weth    common.Address
	facABI  abi.ABI
	prABI   abi.ABI
	ercABI  abi.ABI
}

// Option configures the client.
type Option func(*Client)

// WithEthClient sets a custom Ethereum client (useful for testing).
func WithEthClient(ec EthClient) Option {
	return func(c *Client) { c.eth = ec }
}

// Dial connects to the RPC node and prepares the DEX lookup ABIs.
func Dial(rpcURL, factoryAddr, wethAddr string, opts ...Option) (*Client, error) {
	fa, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse factory ABI: %w", err)
	}
	pa, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse pair ABI: %w", err)
	}
	ea, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 ABI: %w", err)
	}

	c := &Client{
		factory: common.HexToAddress(factoryAddr),
		weth:    common.HexToAddress(wethAddr),
		facABI:  fa,
		prABI:   pa,
		ercABI:  ea,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.eth == nil {
		ec, err := ethclient.Dial(rpcURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.eth = ec
	}
	return c, nil
}

// Balance returns the native balance of an address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	return c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// Code returns the deployed bytecode at an address. Empty for wallets.
func (c *Client) Code(ctx context.Context, address string) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	return c.eth.CodeAt(ctx, common.HexToAddress(address), nil)
}

// TxCount returns the outgoing transaction count (nonce) of an address.
func (c *Client) TxCount(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, ErrInvalidAddress
	}
	return c.eth.NonceAt(ctx, common.HexToAddress(address), nil)
}

// TradingPair resolves the token/WETH pair for a token address and reads its
// reserves. Returns (nil, nil) when the factory has no pair for the token.
func (c *Client) TradingPair(ctx context.Context, token string) (*Pair, error) {
	if !common.IsHexAddress(token) {
		return nil, ErrInvalidAddress
	}

	data, err := c.facABI.Pack("getPair", common.HexToAddress(token), c.weth)
	if err != nil {
		return nil, fmt.Errorf("chain: pack getPair: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.factory, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: getPair call: %w", err)
	}

	var pairAddr common.Address
	if err := c.facABI.UnpackIntoInterface(&pairAddr, "getPair", out); err != nil {
		return nil, fmt.Errorf("chain: unpack getPair: %w", err)
	}
	if pairAddr == (common.Address{}) {
		return nil, nil // No pair registered
	}

	data, err = c.prABI.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("chain: pack getReserves: %w", err)
	}
	out, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &pairAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: getReserves call: %w", err)
	}

	vals, err := c.prABI.Unpack("getReserves", out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack getReserves: %w", err)
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("chain: unpack getReserves: got %d values, want 3", len(vals))
	}
	r0, _ := vals[0].(*big.Int)
	r1, _ := vals[1].(*big.Int)

	return &Pair{
		Address:  pairAddr.Hex(),
		Reserve0: r0,
		Reserve1: r1,
	}, nil
}

// TokenSymbol reads the ERC-20 symbol of a token contract. Errors when the
// contract does not expose a string symbol.
func (c *Client) TokenSymbol(ctx context.Context, token string) (string, error) {
	if !common.IsHexAddress(token) {
		return "", ErrInvalidAddress
	}

	data, err := c.ercABI.Pack("symbol")
	if err != nil {
		return "", fmt.Errorf("chain: pack symbol: %w", err)
	}
	to := common.HexToAddress(token)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("chain: symbol call: %w", err)
	}

	var symbol string
	if err := c.ercABI.UnpackIntoInterface(&symbol, "symbol", out); err != nil {
		return "", fmt.Errorf("chain: unpack symbol: %w", err)
	}
	return symbol, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}
