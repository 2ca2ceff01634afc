package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/anchor-sync/tree"
)

var testConfig = SyncConfig{
	Height:           5,
	Hasher:           tree.Keccak256,
	DefaultChunkSize: 100,
	MaxRetries:       2,
	RetryBackoff:     time.Millisecond,
}

var testContract = common.HexToAddress("0x8eB24319393716668D768dCEC29356ae9CfFe285")

func leaf(n int) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("commitment-%d", n)))
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "leaves.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *Storage) {
	t.Helper()
	s := newTestStorage(t)
	e, err := NewEngine(s, testConfig, opts...)
	require.NoError(t, err)
	return e, s
}

func rootOf(t *testing.T, leaves []common.Hash) common.Hash {
	t.Helper()
	h, err := tree.GetHasher(testConfig.Hasher)
	require.NoError(t, err)
	tr, err := tree.New(testConfig.Height, h, leaves)
	require.NoError(t, err)
	return tr.Root()
}

type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

// fakeChain is an in-memory anchor. Its current root is derived from every
// inserted leaf unless root is set.
type fakeChain struct {
	t *testing.T

	mu       sync.Mutex
	events   []LeafEvent
	latest   uint64
	root     *common.Hash
	known    map[common.Hash]bool
	edges    map[uint64]*EdgeSnapshot
	maxSpan  uint64
	failures int
	reverse  bool
	calls    [][2]uint64
	served   [][2]uint64
}

func newFakeChain(t *testing.T) *fakeChain {
	return &fakeChain{t: t, known: make(map[common.Hash]bool), edges: make(map[uint64]*EdgeSnapshot)}
}

func (f *fakeChain) insert(block uint64, commitments ...common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range commitments {
		f.events = append(f.events, LeafEvent{LeafIndex: uint64(len(f.events)), Commitment: c, BlockNumber: block})
	}
	if block > f.latest {
		f.latest = block
	}
}

func (f *fakeChain) leaves() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Hash, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Commitment
	}
	return out
}

func (f *fakeChain) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeChain) GetLogs(_ context.Context, contract common.Address, from, to uint64) ([]LeafEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]uint64{from, to})
	if contract != testContract {
		return nil, nil
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset by peer")
	}
	if f.maxSpan > 0 && to-from+1 > f.maxSpan {
		return nil, &rpcError{code: -32005, msg: "query exceeds max block range"}
	}
	var out []LeafEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	f.served = append(f.served, [2]uint64{from, to})
	if f.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (f *fakeChain) CurrentRoot(context.Context, common.Address) (common.Hash, error) {
	if f.root != nil {
		return *f.root, nil
	}
	return rootOf(f.t, f.leaves()), nil
}

func (f *fakeChain) IsKnownRoot(_ context.Context, _ common.Address, root common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[root], nil
}

func (f *fakeChain) Edge(_ context.Context, _ common.Address, source uint64) (*EdgeSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	edge, ok := f.edges[source]
	if !ok {
		return nil, ErrEdgeRootNotFound
	}
	return edge, nil
}

// widestServed is the largest range GetLogs answered successfully.
func (f *fakeChain) widestServed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var widest uint64
	for _, c := range f.served {
		widest = max(widest, c[1]-c[0]+1)
	}
	return widest
}

type fakeRelayer struct {
	leaves []common.Hash
	block  uint64
	err    error
	calls  int
}

func (r *fakeRelayer) Name() string { return "fake-relayer" }

func (r *fakeRelayer) Leaves(context.Context, CacheKey) (*RelayedLeaves, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &RelayedLeaves{Leaves: r.leaves, LastQueriedBlock: r.block}, nil
}
