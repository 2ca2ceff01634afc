package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tangle-network/anchor-sync/relayer"
	"github.com/tangle-network/anchor-sync/tree"
)

// ProofService ties the engine to configured chains and relayers.
type ProofService struct {
	engine      *Engine
	chains      map[uint64]ChainReader
	startBlocks map[CacheKey]uint64
	registry    *relayer.Registry
	prover      Prover
	session     relayer.SessionConfig

	mu sync.Mutex
	// relayers caught serving fabricated leaves; never used as a leaf
	// source again by this service
	misbehaving map[string]error
}

type ServiceOption func(*ProofService)

func WithRegistry(r *relayer.Registry) ServiceOption {
	return func(s *ProofService) { s.registry = r }
}

func WithProver(p Prover) ServiceOption {
	return func(s *ProofService) { s.prover = p }
}

func WithStartBlocks(blocks map[CacheKey]uint64) ServiceOption {
	return func(s *ProofService) { s.startBlocks = blocks }
}

func WithSessionConfig(c relayer.SessionConfig) ServiceOption {
	return func(s *ProofService) { s.session = c }
}

func NewProofService(storage *Storage, config SyncConfig, chains map[uint64]ChainReader, opts ...ServiceOption) (*ProofService, error) {
	s := &ProofService{
		chains:      chains,
		startBlocks: make(map[CacheKey]uint64),
		session:     relayer.DefaultSessionConfig,
		misbehaving: make(map[string]error),
	}
	engine, err := NewEngine(storage, config, WithMisbehaviorHook(s.markMisbehaving))
	if err != nil {
		return nil, err
	}
	s.engine = engine
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ProofService) Engine() *Engine { return s.engine }

func (s *ProofService) Registry() *relayer.Registry { return s.registry }

func (s *ProofService) markMisbehaving(source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misbehaving[source] = err
	log.Warn("relayer excluded as leaf source", "relayer", source, "err", err)
}

// Misbehaving reports whether endpoint has been excluded as a leaf source.
func (s *ProofService) Misbehaving(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.misbehaving[endpoint]
	return ok
}

func (s *ProofService) chain(chainID uint64) (ChainReader, error) {
	c, ok := s.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return c, nil
}

// leafSource picks a relayer that watches key's contract and has not been
// caught misbehaving, or nil.
func (s *ProofService) leafSource(key CacheKey) LeafSource {
	if s.registry == nil {
		return nil
	}
	candidates := s.registry.Query(relayer.Predicate{
		Contract: &relayer.ContractFilter{
			BaseOn:  relayer.EVM,
			Chain:   relayer.ChainID(key.ChainID),
			Address: key.Contract.Hex(),
		},
	})
	for _, caps := range candidates {
		if !s.Misbehaving(caps.Endpoint) {
			return &RelayerLeafSource{client: s.registry.Client(), endpoint: caps.Endpoint}
		}
	}
	return nil
}

func (s *ProofService) request(key CacheKey, leaf common.Hash, useRelayer bool) (ProofRequest, error) {
	c, err := s.chain(key.ChainID)
	if err != nil {
		return ProofRequest{}, err
	}
	req := ProofRequest{
		Key:        key,
		Leaf:       leaf,
		StartBlock: s.startBlocks[key],
		Roots:      c,
		Logs:       c,
	}
	if useRelayer {
		if src := s.leafSource(key); src != nil {
			req.Relayer = src
		}
	}
	return req, nil
}

// Proof returns the inclusion path of commitment in the tree at key.
func (s *ProofService) Proof(ctx context.Context, key CacheKey, commitment common.Hash, useRelayer bool) (*tree.Path, error) {
	req, err := s.request(key, commitment, useRelayer)
	if err != nil {
		return nil, err
	}
	return s.engine.ResolveProof(ctx, req)
}

type LinkedProofRequest struct {
	Source      CacheKey    `json:"source"`
	Destination CacheKey    `json:"destination"`
	Commitment  common.Hash `json:"commitment"`
	UseRelayer  bool        `json:"useRelayer"`
}

// LinkedProof proves a deposit made on Source against the root Destination
// last recorded for Source's edge.
func (s *ProofService) LinkedProof(ctx context.Context, r LinkedProofRequest) (*tree.Path, *EdgeSnapshot, error) {
	req, err := s.request(r.Source, r.Commitment, r.UseRelayer)
	if err != nil {
		return nil, nil, err
	}
	dest, err := s.chain(r.Destination.ChainID)
	if err != nil {
		return nil, nil, err
	}
	leaves, err := s.engine.SyncLeaves(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	edge, err := dest.Edge(ctx, r.Destination.Contract, r.Source.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("read edge: %w", err)
	}
	path, err := ResolveLinkedProof(s.engine.Height(), s.engine.Hasher(), leaves, r.Commitment, edge)
	if err != nil {
		return nil, nil, err
	}
	return path, edge, nil
}

// CacheEntry returns what is cached for key.
func (s *ProofService) CacheEntry(key CacheKey) (*TreeCacheEntry, error) {
	return s.engine.storage.Load(key)
}

// RelayerLeafSource reads leaf sets from a relayer's HTTP API.
type RelayerLeafSource struct {
	client   *relayer.Client
	endpoint string
}

func NewRelayerLeafSource(client *relayer.Client, endpoint string) *RelayerLeafSource {
	return &RelayerLeafSource{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

func (r *RelayerLeafSource) Name() string { return r.endpoint }

func (r *RelayerLeafSource) Leaves(ctx context.Context, key CacheKey) (*RelayedLeaves, error) {
	leaves, block, err := r.client.Leaves(ctx, strings.TrimRight(r.endpoint, "/"), key.ChainID, key.Contract)
	if err != nil {
		return nil, err
	}
	return &RelayedLeaves{Leaves: leaves, LastQueriedBlock: block}, nil
}
