package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CacheKey identifies one commitment tree: an anchor contract on a chain.
type CacheKey struct {
	ChainID  uint64         `json:"chainId"`
	Contract common.Address `json:"contract"`
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%d:%s", k.ChainID, strings.ToLower(k.Contract.Hex()))
}

// TreeCacheEntry is the persisted view of one tree. It is only ever replaced
// as a whole after its root has been validated.
type TreeCacheEntry struct {
	LastQueriedBlock uint64        `json:"lastQueriedBlock"`
	Leaves           []common.Hash `json:"leaves"`
}

// LeafEvent is a single insertion read from chain logs.
type LeafEvent struct {
	LeafIndex   uint64
	Commitment  common.Hash
	BlockNumber uint64
}

// EdgeSnapshot is a destination anchor's record of the latest root it has
// seen from a linked source chain.
type EdgeSnapshot struct {
	SourceChainID   uint64      `json:"sourceChainId"`
	Root            common.Hash `json:"root"`
	LatestLeafIndex uint64      `json:"latestLeafIndex"`
}

// RelayedLeaves is a leaf set claimed by a relayer, complete up to
// LastQueriedBlock.
type RelayedLeaves struct {
	Leaves           []common.Hash
	LastQueriedBlock uint64
}

type LogSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]LeafEvent, error)
}

// RootProvider reads roots straight from the chain, so its answers are
// trusted.
type RootProvider interface {
	CurrentRoot(ctx context.Context, contract common.Address) (common.Hash, error)
	IsKnownRoot(ctx context.Context, contract common.Address, root common.Hash) (bool, error)
}

type EdgeReader interface {
	Edge(ctx context.Context, contract common.Address, sourceChainID uint64) (*EdgeSnapshot, error)
}

// ChainReader is everything the engine needs from one chain.
type ChainReader interface {
	LogSource
	RootProvider
	EdgeReader
}

// LeafSource is an untrusted supplier of complete leaf sets, normally a
// relayer.
type LeafSource interface {
	Name() string
	Leaves(ctx context.Context, key CacheKey) (*RelayedLeaves, error)
}

// Note holds the secret material of one deposit.
type Note struct {
	Nullifier     common.Hash `json:"nullifier"`
	Secret        common.Hash `json:"secret"`
	Commitment    common.Hash `json:"commitment"`
	NullifierHash common.Hash `json:"nullifierHash"`
}

// Witness is handed to the prover. Path data is assembled here; everything
// cryptographic about it is the prover's business.
type Witness struct {
	Root          common.Hash    `json:"root"`
	Roots         []common.Hash  `json:"roots"`
	PathElements  []common.Hash  `json:"pathElements"`
	PathIndices   []int          `json:"pathIndices"`
	Nullifier     common.Hash    `json:"nullifier"`
	Secret        common.Hash    `json:"secret"`
	NullifierHash common.Hash    `json:"nullifierHash"`
	Recipient     common.Address `json:"recipient"`
	Relayer       common.Address `json:"relayer"`
	Fee           *hexutil.Big   `json:"fee"`
	Refund        *hexutil.Big   `json:"refund"`
}

type Proof struct {
	Data hexutil.Bytes `json:"proof"`
}

type Prover interface {
	Prove(ctx context.Context, w *Witness) (*Proof, error)
}

func bigOrZero(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}
