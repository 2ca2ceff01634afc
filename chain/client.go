// Package chain reads anchor contract state and insertion logs through an
// Ethereum JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tangle-network/anchor-sync/service"
)

// Backend is the subset of *ethclient.Client the reader needs.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader implements service.ChainReader.
type Reader struct {
	backend Backend
}

var _ service.ChainReader = (*Reader)(nil)

func NewReader(backend Backend) *Reader {
	return &Reader{backend: backend}
}

// Dial connects to an RPC endpoint; ws(s) and http(s) both work.
func Dial(ctx context.Context, url string) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return NewReader(client), client, nil
}

func (r *Reader) LatestBlock(ctx context.Context) (uint64, error) {
	return r.backend.BlockNumber(ctx)
}

func (r *Reader) GetLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]service.LeafEvent, error) {
	logs, err := r.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{AnchorABI.Events["Insertion"].ID}},
	})
	if err != nil {
		return nil, err
	}
	events := make([]service.LeafEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := DecodeInsertion(l)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// DecodeInsertion parses one Insertion log.
func DecodeInsertion(l types.Log) (service.LeafEvent, error) {
	if len(l.Topics) != 2 || l.Topics[0] != AnchorABI.Events["Insertion"].ID {
		return service.LeafEvent{}, fmt.Errorf("not an insertion log: tx %s index %d", l.TxHash, l.Index)
	}
	var data struct {
		LeafIndex uint32
		Timestamp *big.Int
	}
	if err := AnchorABI.UnpackIntoInterface(&data, "Insertion", l.Data); err != nil {
		return service.LeafEvent{}, fmt.Errorf("decode insertion in tx %s: %w", l.TxHash, err)
	}
	return service.LeafEvent{
		LeafIndex:   uint64(data.LeafIndex),
		Commitment:  l.Topics[1],
		BlockNumber: l.BlockNumber,
	}, nil
}

func (r *Reader) CurrentRoot(ctx context.Context, contract common.Address) (common.Hash, error) {
	out, err := r.call(ctx, contract, "getLastRoot")
	if err != nil {
		return common.Hash{}, err
	}
	root, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, errors.New("getLastRoot: unexpected output")
	}
	return root, nil
}

func (r *Reader) IsKnownRoot(ctx context.Context, contract common.Address, root common.Hash) (bool, error) {
	out, err := r.call(ctx, contract, "isKnownRoot", [32]byte(root))
	if err != nil {
		return false, err
	}
	known, ok := out[0].(bool)
	if !ok {
		return false, errors.New("isKnownRoot: unexpected output")
	}
	return known, nil
}

func (r *Reader) Edge(ctx context.Context, contract common.Address, sourceChainID uint64) (*service.EdgeSnapshot, error) {
	chainID := new(big.Int).SetUint64(sourceChainID)
	out, err := r.call(ctx, contract, "edgeExistsForChain", chainID)
	if err != nil {
		return nil, err
	}
	if exists, _ := out[0].(bool); !exists {
		return nil, fmt.Errorf("%w: no edge for chain %d on %s", service.ErrEdgeRootNotFound, sourceChainID, contract)
	}
	out, err = r.call(ctx, contract, "edgeIndex", chainID)
	if err != nil {
		return nil, err
	}
	index, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("edgeIndex: unexpected output")
	}
	out, err = r.call(ctx, contract, "edgeList", index)
	if err != nil {
		return nil, err
	}
	return decodeEdge(out)
}

func decodeEdge(out []interface{}) (*service.EdgeSnapshot, error) {
	if len(out) != 4 {
		return nil, fmt.Errorf("edgeList: %d outputs", len(out))
	}
	chainID, ok1 := out[0].(*big.Int)
	root, ok2 := out[1].([32]byte)
	latest, ok3 := out[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("edgeList: unexpected output")
	}
	return &service.EdgeSnapshot{
		SourceChainID:   chainID.Uint64(),
		Root:            root,
		LatestLeafIndex: latest.Uint64(),
	}, nil
}

func (r *Reader) call(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := AnchorABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	out, err := AnchorABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty output", method)
	}
	return out, nil
}
