package service

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/anchor-sync/tree"
)

// ResolveLinkedProof replays sourceLeaves until the tree root equals the
// root the destination chain recorded for the source edge, then proves
// deposit against exactly that prefix. Leaves after the match never
// influence the returned path.
//
// A destination only keeps the latest root per edge, so a plain membership
// lookup over the full source tree would prove against a root the
// destination has never seen.
func ResolveLinkedProof(height int, hasher tree.Hasher, sourceLeaves []common.Hash, deposit common.Hash, edge *EdgeSnapshot) (*tree.Path, error) {
	if edge == nil {
		return nil, fmt.Errorf("%w: no edge", ErrEdgeRootNotFound)
	}
	t, err := tree.New(height, hasher, nil)
	if err != nil {
		return nil, err
	}

	matched := false
	for _, leaf := range sourceLeaves {
		if err := t.Insert(leaf); err != nil {
			return nil, err
		}
		if t.Root() == edge.Root {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: edge root %s from chain %d not reached with %d leaves", ErrEdgeRootNotFound, edge.Root, edge.SourceChainID, len(sourceLeaves))
	}

	index, ok := t.IndexOf(deposit)
	if !ok {
		return nil, fmt.Errorf("%w: %s not within the %d leaves covered by edge root %s", ErrLeafNotFound, deposit, t.Len(), edge.Root)
	}
	return t.Path(index)
}
