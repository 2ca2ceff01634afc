package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tangle-network/anchor-sync/tree"
)

type SyncConfig struct {
	Height           int
	Hasher           string
	DefaultChunkSize uint64
	// ChunkSizes overrides DefaultChunkSize for chains whose providers cap
	// eth_getLogs ranges more tightly.
	ChunkSizes   map[uint64]uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

var DefaultSyncConfig = SyncConfig{
	Height:           30,
	Hasher:           tree.Poseidon,
	DefaultChunkSize: 5000,
	ChunkSizes: map[uint64]uint64{
		1287:  1024, // moonbase alpha
		80001: 3000, // mumbai
		1284:  1024, // moonbeam
	},
	MaxRetries:   3,
	RetryBackoff: 500 * time.Millisecond,
}

func (c *SyncConfig) chunkSize(chainID uint64) uint64 {
	if size, ok := c.ChunkSizes[chainID]; ok && size > 0 {
		return size
	}
	if c.DefaultChunkSize == 0 {
		return DefaultSyncConfig.DefaultChunkSize
	}
	return c.DefaultChunkSize
}

// ProofRequest names the tree, the leaf to prove and the sources to sync
// from. Relayer is optional.
type ProofRequest struct {
	Key CacheKey
	// Leaf is ignored by SyncLeaves.
	Leaf common.Hash
	// StartBlock is where direct sync begins when nothing is cached,
	// usually the contract's deployment block.
	StartBlock uint64
	Roots      RootProvider
	Logs       LogSource
	Relayer    LeafSource
}

// Engine keeps per-tree leaf caches up to date and produces inclusion paths
// from them. Calls for the same key must not run concurrently.
type Engine struct {
	storage     *Storage
	config      SyncConfig
	hasher      tree.Hasher
	misbehaving func(source string, err error)
}

type EngineOption func(*Engine)

// WithMisbehaviorHook is called whenever a relayer's claimed frontier fails
// validation.
func WithMisbehaviorHook(fn func(source string, err error)) EngineOption {
	return func(e *Engine) { e.misbehaving = fn }
}

func NewEngine(storage *Storage, config SyncConfig, opts ...EngineOption) (*Engine, error) {
	hasher, err := tree.GetHasher(config.Hasher)
	if err != nil {
		return nil, err
	}
	if config.Height <= 0 || config.Height > tree.MaxHeight {
		return nil, fmt.Errorf("%w: %d", tree.ErrInvalidHeight, config.Height)
	}
	e := &Engine{storage: storage, config: config, hasher: hasher}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Hasher() tree.Hasher { return e.hasher }

func (e *Engine) Height() int { return e.config.Height }

// ResolveProof brings the tree for req.Key up to date and returns the path
// of req.Leaf.
func (e *Engine) ResolveProof(ctx context.Context, req ProofRequest) (*tree.Path, error) {
	t, err := e.sync(ctx, req)
	if err != nil {
		return nil, err
	}
	index, ok := t.IndexOf(req.Leaf)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrLeafNotFound, req.Leaf, req.Key)
	}
	return t.Path(index)
}

// SyncLeaves brings the tree for req.Key up to date and returns its leaves.
func (e *Engine) SyncLeaves(ctx context.Context, req ProofRequest) ([]common.Hash, error) {
	t, err := e.sync(ctx, req)
	if err != nil {
		return nil, err
	}
	return t.Leaves(), nil
}

func (e *Engine) sync(ctx context.Context, req ProofRequest) (*tree.Tree, error) {
	cached, err := e.storage.Load(req.Key)
	if err != nil {
		return nil, err
	}

	if req.Relayer != nil {
		t, err := e.syncFromRelayer(ctx, req, cached)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrRelayerMisbehaving) && e.misbehaving != nil {
			e.misbehaving(req.Relayer.Name(), err)
		}
		log.Warn("relayer leaves rejected, syncing from chain", "key", req.Key, "relayer", req.Relayer.Name(), "err", err)
	}

	return e.syncFromChain(ctx, req, cached)
}

func (e *Engine) syncFromRelayer(ctx context.Context, req ProofRequest, cached *TreeCacheEntry) (*tree.Tree, error) {
	relayed, err := req.Relayer.Leaves(ctx, req.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch relayer leaves: %w", err)
	}
	if len(relayed.Leaves) == 0 {
		return nil, errors.New("relayer returned no leaves")
	}
	if relayed.LastQueriedBlock < cached.LastQueriedBlock || len(relayed.Leaves) < len(cached.Leaves) {
		return nil, fmt.Errorf("relayer is behind cache: block %d, %d leaves", relayed.LastQueriedBlock, len(relayed.Leaves))
	}
	if !hasPrefix(relayed.Leaves, cached.Leaves) {
		return nil, fmt.Errorf("%w: leaves conflict with validated cache", ErrRelayerMisbehaving)
	}

	lastIndex := uint64(len(relayed.Leaves) - 1)
	last := relayed.Leaves[lastIndex]
	events, err := req.Logs.GetLogs(ctx, req.Key.Contract, relayed.LastQueriedBlock, relayed.LastQueriedBlock)
	if err != nil {
		return nil, fmt.Errorf("check relayer frontier: %w", err)
	}
	found := false
	for _, ev := range events {
		if ev.Commitment == last && ev.LeafIndex == lastIndex {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: leaf %d (%s) not inserted at block %d", ErrRelayerMisbehaving, lastIndex, last, relayed.LastQueriedBlock)
	}

	t, err := tree.New(e.config.Height, e.hasher, relayed.Leaves)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelayerMisbehaving, err)
	}
	trusted, err := req.Roots.CurrentRoot(ctx, req.Key.Contract)
	if err != nil {
		return nil, fmt.Errorf("read current root: %w", err)
	}
	if t.Root() != trusted {
		return nil, fmt.Errorf("%w: relayer root %s, chain root %s", ErrRootMismatch, t.Root(), trusted)
	}

	entry := &TreeCacheEntry{LastQueriedBlock: relayed.LastQueriedBlock, Leaves: t.Leaves()}
	if err := e.storage.Store(req.Key, entry); err != nil {
		return nil, err
	}
	log.Info("adopted relayer leaves", "key", req.Key, "relayer", req.Relayer.Name(), "leaves", len(entry.Leaves), "block", entry.LastQueriedBlock)
	return t, nil
}

func (e *Engine) syncFromChain(ctx context.Context, req ProofRequest, cached *TreeCacheEntry) (*tree.Tree, error) {
	latest, err := req.Logs.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: latest block: %w", ErrSyncFailed, err)
	}

	from := req.StartBlock
	if cached.LastQueriedBlock > 0 || len(cached.Leaves) > 0 {
		from = max(from, cached.LastQueriedBlock+1)
	}

	leaves := make([]common.Hash, len(cached.Leaves))
	copy(leaves, cached.Leaves)
	lastQueried := cached.LastQueriedBlock
	if from <= latest {
		events, err := e.fetchLogs(ctx, req.Logs, req.Key, from, latest)
		if err != nil {
			return nil, err
		}
		if leaves, err = appendEvents(leaves, events); err != nil {
			return nil, err
		}
		lastQueried = latest
	}

	t, err := tree.New(e.config.Height, e.hasher, leaves)
	if err != nil {
		return nil, err
	}
	trusted, err := req.Roots.CurrentRoot(ctx, req.Key.Contract)
	if err != nil {
		return nil, fmt.Errorf("%w: current root: %w", ErrSyncFailed, err)
	}

	if t.Root() == trusted {
		entry := &TreeCacheEntry{LastQueriedBlock: lastQueried, Leaves: leaves}
		if err := e.storage.Store(req.Key, entry); err != nil {
			return nil, err
		}
		log.Debug("synced tree from chain", "key", req.Key, "leaves", len(leaves), "block", lastQueried)
		return t, nil
	}

	// the chain may have moved on since the logs were read; a root the
	// contract still remembers yields valid proofs but is not cached
	known, err := req.Roots.IsKnownRoot(ctx, req.Key.Contract, t.Root())
	if err != nil {
		return nil, fmt.Errorf("%w: known root: %w", ErrSyncFailed, err)
	}
	if !known {
		return nil, fmt.Errorf("%w: local root %s, chain root %s", ErrRootMismatch, t.Root(), trusted)
	}
	log.Info("local root is historical, cache left untouched", "key", req.Key, "root", t.Root(), "current", trusted)
	return t, nil
}
