package intel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"

	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/reposearch"
)

var errProviderDown = errors.New("provider down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChain struct {
	code    map[string][]byte
	balance map[string]*big.Int
	nonce   map[string]uint64
	pairs   map[string]*chain.Pair
	symbols map[string]string
	err     error
}

func (f *fakeChain) Balance(_ context.Context, addr string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balance[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) Code(_ context.Context, addr string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.code[addr], nil
}

func (f *fakeChain) TxCount(_ context.Context, addr string) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.nonce[addr], nil
}

func (f *fakeChain) TradingPair(_ context.Context, token string) (*chain.Pair, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pairs[token], nil
}

func (f *fakeChain) TokenSymbol(_ context.Context, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if s, ok := f.symbols[token]; ok {
		return s, nil
	}
	return "", errors.New("no symbol")
}

type fakeHistory struct {
	txs      map[string][]explorer.Tx
	creation map[string]*explorer.Creation
	err      error
}

func (f *fakeHistory) Transactions(_ context.Context, addr string, _ int) ([]explorer.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.txs[addr], nil
}

func (f *fakeHistory) InternalTransactions(_ context.Context, addr string, _ int) ([]explorer.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeHistory) ContractCreation(_ context.Context, addr string) (*explorer.Creation, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.creation[addr]; ok {
		return c, nil
	}
	return nil, explorer.ErrNotFound
}

type fakeSource struct {
	sources map[string]*explorer.Source
	err     error
}

func (f *fakeSource) SourceCode(_ context.Context, addr string) (*explorer.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.sources[addr]; ok {
		return s, nil
	}
	return &explorer.Source{}, nil
}

type fakeRepos struct {
	repo      *reposearch.Repo
	err       error
	lastQuery string
}

func (f *fakeRepos) Search(_ context.Context, query string) (*reposearch.Repo, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	if f.repo == nil {
		return nil, reposearch.ErrNoRepo
	}
	return f.repo, nil
}

type failingScamList struct{}

func (failingScamList) Lookup(context.Context, string) (bool, string, error) {
	return false, "", errProviderDown
}

// newTestEngine wires an engine from fakes, defaulting each to benign values.
func newTestEngine(fc *fakeChain, fh *fakeHistory, fs *fakeSource, fr *fakeRepos, list ScamListProvider) *Engine {
	if fc == nil {
		fc = &fakeChain{}
	}
	if fh == nil {
		fh = &fakeHistory{}
	}
	if fs == nil {
		fs = &fakeSource{}
	}
	if fr == nil {
		fr = &fakeRepos{}
	}
	if list == nil {
		list = NewStaticScamList(nil)
	}
	logger := testLogger()
	return NewEngine(
		NewContractAnalyzer(fc, fs, logger),
		NewBehaviorAnalyzer(fc, fh, logger),
		NewWalletAnalyzer(fc, fh, logger),
		NewTransparencyAnalyzer(fr, logger),
		NewScamAnalyzer(list, logger),
		fh,
		logger,
	)
}
