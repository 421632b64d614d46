// Package explorer is a client for Etherscan-compatible block explorer APIs.
//
// It provides the transaction history and source-verification lookups the
// analyzers need. All calls go through a shared retry policy and a circuit
// breaker so a degraded explorer fails fast instead of stalling analyses.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/chainguard/internal/circuitbreaker"
	"github.com/mbd888/chainguard/internal/retry"
)

var (
	// ErrCircuitOpen is returned when the explorer breaker is tripped.
	ErrCircuitOpen = errors.New("explorer: circuit open")
	// ErrNotFound is returned for lookups with no result.
	ErrNotFound = errors.New("explorer: not found")
)

const (
	breakerKey  = "explorer"
	maxAttempts = 3
	baseDelay   = 200 * time.Millisecond
)

// Tx is a single transaction from the explorer's account history.
type Tx struct {
	Hash            string
	From            string
	To              string
	Value           string // wei, decimal string
	ContractAddress string // set for contract-creation transactions
	Failed          bool
	Timestamp       time.Time
}

// Creation identifies who deployed a contract.
type Creation struct {
	ContractAddress string
	Deployer        string
	TxHash          string
}

// Source describes a contract's verified source metadata.
type Source struct {
	Verified       bool
	ContractName   string
	SourceCode     string
	ABI            string
	Proxy          bool
	Implementation string
}

// Client talks to an Etherscan-compatible API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBreaker sets a shared circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates an explorer client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the Etherscan response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// rawTx matches the explorer's stringly-typed transaction rows.
type rawTx struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	IsError         string `json:"isError"`
	TimeStamp       string `json:"timeStamp"`
}

// Transactions returns up to limit most recent transactions for an address.
func (c *Client) Transactions(ctx context.Context, address string, limit int) ([]Tx, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"page":    {"1"},
		"offset":  {strconv.Itoa(limit)},
		"sort":    {"desc"},
	}
	return c.txQuery(ctx, params)
}

// InternalTransactions returns up to limit internal transactions for an address.
func (c *Client) InternalTransactions(ctx context.Context, address string, limit int) ([]Tx, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlistinternal"},
		"address": {address},
		"page":    {"1"},
		"offset":  {strconv.Itoa(limit)},
		"sort":    {"desc"},
	}
	return c.txQuery(ctx, params)
}

func (c *Client) txQuery(ctx context.Context, params url.Values) ([]Tx, error) {
	var raw []rawTx
	if err := c.call(ctx, params, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil // No transactions is not an error
		}
		return nil, err
	}

	txs := make([]Tx, 0, len(raw))
	for _, r := range raw {
		ts, _ := strconv.ParseInt(r.TimeStamp, 10, 64)
		txs = append(txs, Tx{
			Hash:            r.Hash,
			From:            strings.ToLower(r.From),
			To:              strings.ToLower(r.To),
			Value:           r.Value,
			ContractAddress: strings.ToLower(r.ContractAddress),
			Failed:          r.IsError == "1",
			Timestamp:       time.Unix(ts, 0).UTC(),
		})
	}
	return txs, nil
}

// ContractCreation looks up the deployer of a contract.
func (c *Client) ContractCreation(ctx context.Context, address string) (*Creation, error) {
	params := url.Values{
		"module":          {"contract"},
		"action":          {"getcontractcreation"},
		"contractaddresses": {address},
	}

	var raw []struct {
		ContractAddress string `json:"contractAddress"`
		ContractCreator string `json:"contractCreator"`
		TxHash          string `json:"txHash"`
	}
	if err := c.call(ctx, params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return &Creation{
		ContractAddress: strings.ToLower(raw[0].ContractAddress),
		Deployer:        strings.ToLower(raw[0].ContractCreator),
		TxHash:          raw[0].TxHash,
	}, nil
}

// SourceCode fetches verified source metadata for a contract.
func (c *Client) SourceCode(ctx context.Context, address string) (*Source, error) {
	params := url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	}

	var raw []struct {
		SourceCode     string `json:"SourceCode"`
		ABI            string `json:"ABI"`
		ContractName   string `json:"ContractName"`
		Proxy          string `json:"Proxy"`
		Implementation string `json:"Implementation"`
	}
	if err := c.call(ctx, params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	r := raw[0]
	return &Source{
		Verified:       r.SourceCode != "" && r.ABI != "Contract source code not verified",
		ContractName:   r.ContractName,
		SourceCode:     r.SourceCode,
		ABI:            r.ABI,
		Proxy:          r.Proxy == "1",
		Implementation: strings.ToLower(r.Implementation),
	}, nil
}

// call executes one explorer query with retry and circuit breaking.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	if !c.breaker.Allow(breakerKey) {
		return ErrCircuitOpen
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	err := retry.Do(ctx, maxAttempts, baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("explorer: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("explorer: status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return retry.Permanent(fmt.Errorf("explorer: decode: %w", err))
		}
		// Status "0" with an empty result means "no records", not a failure.
		if env.Status == "0" && strings.Contains(env.Message, "No") {
			return retry.Permanent(ErrNotFound)
		}
		if env.Status != "1" {
			return retry.Permanent(fmt.Errorf("explorer: %s", env.Message))
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return retry.Permanent(fmt.Errorf("explorer: decode result: %w", err))
		}
		return nil
	})

	if err != nil && !errors.Is(err, ErrNotFound) {
		c.breaker.RecordFailure(breakerKey)
		return err
	}
	c.breaker.RecordSuccess(breakerKey)
	return err
}
