// Package tree implements the fixed-height, append-only binary Merkle tree
// that anchor contracts keep their deposit commitments in.
package tree

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const MaxHeight = 32

var (
	ErrCapacityExceeded = errors.New("tree: capacity exceeded")
	ErrIndexOutOfRange  = errors.New("tree: index out of range")
	ErrInvalidHeight    = errors.New("tree: invalid height")
)

// Tree is not safe for concurrent use.
type Tree struct {
	height int
	hasher Hasher
	zeros  []common.Hash
	// layers[0] holds the leaves, layers[height] the root once non-empty
	layers  [][]common.Hash
	indices map[common.Hash]uint64
}

// Path is the Merkle witness of a single leaf. PathIndices[i] is 1 when the
// node at level i is a right child.
type Path struct {
	Index        uint64        `json:"index"`
	PathElements []common.Hash `json:"pathElements"`
	PathIndices  []int         `json:"pathIndices"`
	Root         common.Hash   `json:"root"`
}

func New(height int, hasher Hasher, leaves []common.Hash) (*Tree, error) {
	if height <= 0 || height > MaxHeight {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHeight, height)
	}
	if hasher == nil {
		return nil, errors.New("tree: nil hasher")
	}
	t := &Tree{
		height:  height,
		hasher:  hasher,
		zeros:   make([]common.Hash, height+1),
		layers:  make([][]common.Hash, height+1),
		indices: make(map[common.Hash]uint64),
	}
	t.zeros[0] = hasher.Zero()
	for i := 1; i <= height; i++ {
		t.zeros[i] = hasher.Hash(t.zeros[i-1], t.zeros[i-1])
	}
	if err := t.BatchInsert(leaves); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) Height() int { return t.height }

func (t *Tree) Hasher() Hasher { return t.hasher }

func (t *Tree) Capacity() uint64 { return uint64(1) << t.height }

func (t *Tree) Len() uint64 { return uint64(len(t.layers[0])) }

// Leaves returns a copy of the inserted leaves in insertion order.
func (t *Tree) Leaves() []common.Hash {
	out := make([]common.Hash, len(t.layers[0]))
	copy(out, t.layers[0])
	return out
}

func (t *Tree) Root() common.Hash {
	if len(t.layers[t.height]) == 0 {
		return t.zeros[t.height]
	}
	return t.layers[t.height][0]
}

// Zero returns the empty subtree hash at the given level.
func (t *Tree) Zero(level int) common.Hash { return t.zeros[level] }

func (t *Tree) Insert(leaf common.Hash) error {
	if t.Len() >= t.Capacity() {
		return ErrCapacityExceeded
	}
	index := len(t.layers[0])
	t.layers[0] = append(t.layers[0], leaf)
	if _, ok := t.indices[leaf]; !ok {
		t.indices[leaf] = uint64(index)
	}
	t.updatePath(index)
	return nil
}

// BatchInsert appends all leaves or none of them.
func (t *Tree) BatchInsert(leaves []common.Hash) error {
	if uint64(len(leaves)) > t.Capacity()-t.Len() {
		return fmt.Errorf("%w: %d leaves do not fit in %d free slots", ErrCapacityExceeded, len(leaves), t.Capacity()-t.Len())
	}
	start := len(t.layers[0])
	for i, leaf := range leaves {
		t.layers[0] = append(t.layers[0], leaf)
		if _, ok := t.indices[leaf]; !ok {
			t.indices[leaf] = uint64(start + i)
		}
	}
	t.rebuildFrom(start)
	return nil
}

// IndexOf returns the first index holding leaf.
func (t *Tree) IndexOf(leaf common.Hash) (uint64, bool) {
	i, ok := t.indices[leaf]
	return i, ok
}

func (t *Tree) Path(index uint64) (*Path, error) {
	if index >= t.Len() {
		return nil, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, t.Len())
	}
	p := &Path{
		Index:        index,
		PathElements: make([]common.Hash, t.height),
		PathIndices:  make([]int, t.height),
		Root:         t.Root(),
	}
	idx := index
	for level := 0; level < t.height; level++ {
		p.PathIndices[level] = int(idx & 1)
		p.PathElements[level] = t.node(level, idx^1)
		idx >>= 1
	}
	return p, nil
}

// node returns the hash at (level, i), falling back to the empty subtree.
func (t *Tree) node(level int, i uint64) common.Hash {
	if i < uint64(len(t.layers[level])) {
		return t.layers[level][i]
	}
	return t.zeros[level]
}

func (t *Tree) updatePath(index int) {
	idx := uint64(index)
	for level := 1; level <= t.height; level++ {
		idx >>= 1
		t.set(level, idx, t.hasher.Hash(t.node(level-1, idx*2), t.node(level-1, idx*2+1)))
	}
}

// rebuildFrom recomputes every parent touched by leaves at index >= start.
func (t *Tree) rebuildFrom(start int) {
	if start >= len(t.layers[0]) {
		return
	}
	from := uint64(start)
	for level := 1; level <= t.height; level++ {
		from >>= 1
		width := (uint64(len(t.layers[level-1])) + 1) / 2
		for i := from; i < width; i++ {
			t.set(level, i, t.hasher.Hash(t.node(level-1, i*2), t.node(level-1, i*2+1)))
		}
	}
}

func (t *Tree) set(level int, i uint64, h common.Hash) {
	if i < uint64(len(t.layers[level])) {
		t.layers[level][i] = h
		return
	}
	t.layers[level] = append(t.layers[level], h)
}

// VerifyPath recomputes the root from leaf and path and compares it with
// path.Root.
func VerifyPath(hasher Hasher, leaf common.Hash, path *Path) bool {
	if path == nil || len(path.PathElements) != len(path.PathIndices) {
		return false
	}
	cur := leaf
	for i, sibling := range path.PathElements {
		if path.PathIndices[i] == 0 {
			cur = hasher.Hash(cur, sibling)
		} else {
			cur = hasher.Hash(sibling, cur)
		}
	}
	return cur == path.Root
}
