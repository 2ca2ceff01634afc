package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/anchor-sync/relayer"
	"github.com/tangle-network/anchor-sync/service"
	"github.com/tangle-network/anchor-sync/tree"
)

const contract = "0x8eB24319393716668D768dCEC29356ae9CfFe285"

var config = service.SyncConfig{Height: 4, Hasher: tree.Keccak256, DefaultChunkSize: 100}

func commitment(i int) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("commitment-%d", i)))
}

// anchor is a chain holding a single anchor whose leaves were all inserted
// at block 1.
type anchor struct {
	leaves []common.Hash
	edges  map[uint64]*service.EdgeSnapshot
	root   *common.Hash
}

func (a *anchor) treeRoot(leaves []common.Hash) common.Hash {
	h, _ := tree.GetHasher(config.Hasher)
	t, err := tree.New(config.Height, h, leaves)
	if err != nil {
		panic(err)
	}
	return t.Root()
}

func (a *anchor) LatestBlock(context.Context) (uint64, error) { return 1, nil }

func (a *anchor) GetLogs(_ context.Context, _ common.Address, from, to uint64) ([]service.LeafEvent, error) {
	if from > 1 || to < 1 {
		return nil, nil
	}
	out := make([]service.LeafEvent, len(a.leaves))
	for i, l := range a.leaves {
		out[i] = service.LeafEvent{LeafIndex: uint64(i), Commitment: l, BlockNumber: 1}
	}
	return out, nil
}

func (a *anchor) CurrentRoot(context.Context, common.Address) (common.Hash, error) {
	if a.root != nil {
		return *a.root, nil
	}
	return a.treeRoot(a.leaves), nil
}

func (a *anchor) IsKnownRoot(context.Context, common.Address, common.Hash) (bool, error) {
	return false, nil
}

func (a *anchor) Edge(_ context.Context, _ common.Address, source uint64) (*service.EdgeSnapshot, error) {
	if e, ok := a.edges[source]; ok {
		return e, nil
	}
	return nil, service.ErrEdgeRootNotFound
}

func setup(t *testing.T, opts ...service.ServiceOption) (*gin.Engine, *anchor, *anchor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	source := &anchor{leaves: []common.Hash{commitment(0), commitment(1), commitment(2)}}
	dest := &anchor{edges: make(map[uint64]*service.EdgeSnapshot)}

	storage, err := service.NewStorage(filepath.Join(t.TempDir(), "leaves.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	svc, err := service.NewProofService(storage, config, map[uint64]service.ChainReader{5: source, 7: dest}, opts...)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(svc).Register(r)
	return r, source, dest
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := setup(t)
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestProof(t *testing.T) {
	r, source, _ := setup(t)
	body := fmt.Sprintf(`{"chainId":5,"contract":%q,"commitment":%q}`, contract, commitment(1).Hex())

	w := do(r, http.MethodPost, "/proof", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp PathResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Index)
	assert.Equal(t, []int{1, 0, 0, 0}, resp.PathIndices)
	assert.Equal(t, source.treeRoot(source.leaves), resp.Root)
	assert.Contains(t, w.Body.String(), `"pathIndices":[1,0,0,0]`)

	w = do(r, http.MethodGet, "/cache/5/"+contract, "")
	require.Equal(t, http.StatusOK, w.Code)
	var cache CacheResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cache))
	assert.Equal(t, 3, cache.LeafCount)
	assert.Equal(t, uint64(1), cache.LastQueriedBlock)
	assert.Equal(t, commitment(2), cache.LastLeaf)
}

func TestProofErrors(t *testing.T) {
	r, source, _ := setup(t)

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"chainId":5`, http.StatusBadRequest},
		{"missing fields", `{"chainId":5}`, http.StatusBadRequest},
		{"bad contract", fmt.Sprintf(`{"chainId":5,"contract":"0x12","commitment":%q}`, commitment(0).Hex()), http.StatusBadRequest},
		{"unknown chain", fmt.Sprintf(`{"chainId":9,"contract":%q,"commitment":%q}`, contract, commitment(0).Hex()), http.StatusBadRequest},
		{"leaf not found", fmt.Sprintf(`{"chainId":5,"contract":%q,"commitment":%q}`, contract, commitment(9).Hex()), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/proof", tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	wrong := common.HexToHash("0x01")
	source.root = &wrong
	w := do(r, http.MethodPost, "/proof", fmt.Sprintf(`{"chainId":5,"contract":"0x0000000000000000000000000000000000000001","commitment":%q}`, commitment(0).Hex()))
	assert.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
}

func TestLinkedProof(t *testing.T) {
	r, source, dest := setup(t)
	body := fmt.Sprintf(`{"sourceChainId":5,"sourceContract":%q,"destChainId":7,"destContract":%q,"commitment":%q}`,
		contract, contract, commitment(0).Hex())

	w := do(r, http.MethodPost, "/linked-proof", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.True(t, errResp.Retryable)

	edgeRoot := source.treeRoot(source.leaves[:2])
	dest.edges[5] = &service.EdgeSnapshot{SourceChainID: 5, Root: edgeRoot, LatestLeafIndex: 1}
	w = do(r, http.MethodPost, "/linked-proof", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LinkedPathResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, edgeRoot, resp.Root)
	assert.Equal(t, edgeRoot, resp.Edge.Root)
}

func TestCacheMiss(t *testing.T) {
	r, _, _ := setup(t)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/cache/5/"+contract, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/cache/x/"+contract, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/cache/5/0x12", "").Code)
}

func TestRelayersWithoutRegistry(t *testing.T) {
	r, _, _ := setup(t)
	w := do(r, http.MethodGet, "/relayers?chainId=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

// relayerInfo serves a relayer info document watching address on goerli.
func relayerInfo(t *testing.T, address string) string {
	t.Helper()
	r := gin.New()
	r.GET("/api/v1/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"evm": gin.H{"goerli": gin.H{
			"account": "0x58fcd47ece3ed5d7e8a2a2b2b9b5a8e8fb1c3e8a",
			"contracts": []gin.H{{
				"address":       address,
				"size":          1,
				"eventsWatcher": gin.H{"enabled": true},
			}},
		}}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRelayersByBridge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	watching := relayerInfo(t, contract)
	other := relayerInfo(t, "0x0000000000000000000000000000000000000002")
	reg := relayer.BuildRegistry(context.Background(),
		[]relayer.Endpoint{{URL: watching}, {URL: other}},
		relayer.StaticChainNames(map[relayer.BaseOn]map[string]relayer.ChainID{relayer.EVM: {"goerli": 5}}),
		relayer.WithBridgeResolver(relayer.StaticBridges{{Chain: 5, Size: 1, Symbol: "ETH"}: contract}),
	)
	r, _, _ := setup(t, service.WithRegistry(reg))

	list := func(query string) []string {
		w := do(r, http.MethodGet, "/relayers?"+query, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var caps []relayer.Capabilities
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &caps))
		var out []string
		for _, c := range caps {
			out = append(out, c.Endpoint)
		}
		return out
	}

	assert.ElementsMatch(t, []string{watching, other}, list("chainId=5"))
	assert.Equal(t, []string{watching}, list("chainId=5&size=1&symbol=eth"))
	assert.Empty(t, list("chainId=5&size=10&symbol=ETH"))
	assert.Equal(t, []string{watching}, list("chainId=5&contract="+contract))

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/relayers?chainId=5&symbol=ETH&size=big", "").Code)
}
