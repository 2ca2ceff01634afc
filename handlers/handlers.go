package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/tangle-network/anchor-sync/relayer"
	"github.com/tangle-network/anchor-sync/service"
)

type Handler struct {
	svc *service.ProofService
}

func NewHandler(svc *service.ProofService) *Handler {
	return &Handler{svc: svc}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.POST("/proof", h.Proof)
	r.POST("/linked-proof", h.LinkedProof)
	r.GET("/cache/:chainId/:contract", h.Cache)
	r.GET("/relayers", h.Relayers)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Proof(c *gin.Context) {
	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !common.IsHexAddress(req.Contract) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid contract address"})
		return
	}

	key := service.CacheKey{ChainID: req.ChainID, Contract: common.HexToAddress(req.Contract)}
	path, err := h.svc.Proof(c.Request.Context(), key, common.HexToHash(req.Commitment), req.UseRelayer)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pathResponse(path))
}

func (h *Handler) LinkedProof(c *gin.Context) {
	var req LinkedProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !common.IsHexAddress(req.SourceContract) || !common.IsHexAddress(req.DestContract) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid contract address"})
		return
	}

	path, edge, err := h.svc.LinkedProof(c.Request.Context(), service.LinkedProofRequest{
		Source:      service.CacheKey{ChainID: req.SourceChainID, Contract: common.HexToAddress(req.SourceContract)},
		Destination: service.CacheKey{ChainID: req.DestChainID, Contract: common.HexToAddress(req.DestContract)},
		Commitment:  common.HexToHash(req.Commitment),
		UseRelayer:  req.UseRelayer,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, LinkedPathResponse{PathResponse: pathResponse(path), Edge: edge})
}

func (h *Handler) Cache(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chainId"), 0, 64)
	if err != nil || !common.IsHexAddress(c.Param("contract")) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid cache key"})
		return
	}
	key := service.CacheKey{ChainID: chainID, Contract: common.HexToAddress(c.Param("contract"))}

	entry, err := h.svc.CacheEntry(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if len(entry.Leaves) == 0 && entry.LastQueriedBlock == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "tree not cached"})
		return
	}

	resp := CacheResponse{
		Key:              key.String(),
		LastQueriedBlock: entry.LastQueriedBlock,
		LeafCount:        len(entry.Leaves),
	}
	if n := len(entry.Leaves); n > 0 {
		resp.LastLeaf = entry.Leaves[n-1]
	}
	c.JSON(http.StatusOK, resp)
}

// Relayers lists known relayers, optionally filtered by ?chainId=,
// ?contract= and ?ipService=true. ?size= and ?symbol= together with chainId
// select relayers serving that bridge.
func (h *Handler) Relayers(c *gin.Context) {
	registry := h.svc.Registry()
	if registry == nil {
		c.JSON(http.StatusOK, []relayer.Capabilities{})
		return
	}

	var pred relayer.Predicate
	pred.IPService = c.Query("ipService") == "true"
	if s := c.Query("chainId"); s != "" {
		id, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid chainId"})
			return
		}
		switch contract, symbol := c.Query("contract"), c.Query("symbol"); {
		case contract != "":
			pred.Contract = &relayer.ContractFilter{BaseOn: relayer.EVM, Chain: relayer.ChainID(id), Address: contract}
		case symbol != "":
			size, err := strconv.ParseFloat(c.Query("size"), 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid bridge size"})
				return
			}
			pred.Bridge = &relayer.BridgeFilter{BaseOn: relayer.EVM, Chain: relayer.ChainID(id), Size: size, Symbol: symbol}
		default:
			pred.Chain = &relayer.ChainFilter{BaseOn: relayer.EVM, Chain: relayer.ChainID(id)}
		}
	}

	out := registry.Query(pred)
	if out == nil {
		out = []relayer.Capabilities{}
	}
	c.JSON(http.StatusOK, out)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrLeafNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUnknownChain):
		status = http.StatusBadRequest
	case service.IsRetryable(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrSyncFailed), errors.Is(err, service.ErrRootMismatch):
		status = http.StatusBadGateway
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Retryable: service.IsRetryable(err)})
}
