package relayer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLeaves(t *testing.T) {
	f := newFakeRelayer(t, testDocument())
	f.leaves = LeavesResponse{
		Leaves:           []string{"0x01", "0x2a1a3f4e0f8d25e31b1a1f7b6c3c8d6a5d1a0e3e0b2b6c4c5f1e7a8b9c0d1e2f"},
		LastQueriedBlock: "0x1f",
	}
	c := NewClient(nil)

	leaves, block, err := c.Leaves(context.Background(), f.URL(), 5, common.HexToAddress(testContract))
	require.NoError(t, err)
	assert.Equal(t, uint64(31), block)
	require.Len(t, leaves, 2)
	assert.Equal(t, common.HexToHash("0x01"), leaves[0])
	assert.Equal(t, []string{"/api/v1/leaves/0x5/0x8eb24319393716668d768dcec29356ae9cffe285"}, f.paths)
}

func TestClientLeavesRejectsMalformed(t *testing.T) {
	f := newFakeRelayer(t, testDocument())
	c := NewClient(nil)

	f.leaves = LeavesResponse{Leaves: []string{"zz"}, LastQueriedBlock: "0x1"}
	_, _, err := c.Leaves(context.Background(), f.URL(), 5, common.HexToAddress(testContract))
	assert.Error(t, err)

	f.leaves = LeavesResponse{Leaves: []string{"0x01"}, LastQueriedBlock: "31"}
	_, _, err = c.Leaves(context.Background(), f.URL(), 5, common.HexToAddress(testContract))
	assert.Error(t, err)
}

func TestClientInfoAndIP(t *testing.T) {
	f := newFakeRelayer(t, testDocument())
	c := NewClient(nil)

	doc, err := c.Info(context.Background(), f.URL())
	require.NoError(t, err)
	assert.Contains(t, doc.EVM, "goerli")

	ip, err := c.IP(context.Background(), f.URL())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)

	f.setDocument(nil)
	_, err = c.Info(context.Background(), f.URL())
	assert.ErrorContains(t, err, "500")
}
