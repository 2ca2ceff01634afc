package handlers

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/anchor-sync/service"
	"github.com/tangle-network/anchor-sync/tree"
)

type ProofRequest struct {
	ChainID    uint64 `json:"chainId" binding:"required"`
	Contract   string `json:"contract" binding:"required"`
	Commitment string `json:"commitment" binding:"required"`
	UseRelayer bool   `json:"useRelayer"`
}

type LinkedProofRequest struct {
	SourceChainID  uint64 `json:"sourceChainId" binding:"required"`
	SourceContract string `json:"sourceContract" binding:"required"`
	DestChainID    uint64 `json:"destChainId" binding:"required"`
	DestContract   string `json:"destContract" binding:"required"`
	Commitment     string `json:"commitment" binding:"required"`
	UseRelayer     bool   `json:"useRelayer"`
}

type PathResponse struct {
	Index        uint64        `json:"index"`
	PathElements []common.Hash `json:"pathElements"`
	PathIndices  []int         `json:"pathIndices"`
	Root         common.Hash   `json:"root"`
}

type LinkedPathResponse struct {
	PathResponse
	Edge *service.EdgeSnapshot `json:"edge"`
}

type CacheResponse struct {
	Key              string      `json:"key"`
	LastQueriedBlock uint64      `json:"lastQueriedBlock"`
	LeafCount        int         `json:"leafCount"`
	LastLeaf         common.Hash `json:"lastLeaf,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func pathResponse(p *tree.Path) PathResponse {
	return PathResponse{
		Index:        p.Index,
		PathElements: p.PathElements,
		PathIndices:  p.PathIndices,
		Root:         p.Root,
	}
}
