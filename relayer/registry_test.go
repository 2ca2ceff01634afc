package relayer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRegistryDropsUnavailableRelayers(t *testing.T) {
	good := newFakeRelayer(t, testDocument())
	broken := newFakeRelayer(t, nil)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	endpoints := []Endpoint{
		{URL: broken.URL()},
		{URL: slow.URL},
		{URL: good.URL(), HasIPService: true},
		{URL: "http://127.0.0.1:1"},
	}
	start := time.Now()
	reg := BuildRegistry(context.Background(), endpoints, testNames, WithTimeout(100*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, good.URL(), all[0].Endpoint)
	assert.True(t, all[0].HasIPService)

	cfg, ok := all[0].Chain(EVM, 5)
	require.True(t, ok)
	assert.Equal(t, "0x58fcd47ece3ed5d7e8a2a2b2b9b5a8e8fb1c3e8a", cfg.Identity())
	ct, ok := cfg.Contract("0x8eb24319393716668d768dcec29356ae9cffe285")
	require.True(t, ok)
	assert.True(t, ct.EventsWatcherEnabled)

	_, ok = reg.Get(slow.URL)
	assert.False(t, ok)
}

func TestCapabilitiesSkipUnusableChains(t *testing.T) {
	doc := testDocument()
	doc.EVM["unknownnet"] = ChainInfo{Account: "0x01", Contracts: []ContractInfo{{Address: testContract}}}
	doc.EVM["sepolia"] = ChainInfo{Contracts: []ContractInfo{{Address: testContract}}}
	doc.Substrate = map[string]ChainInfo{
		"localnode": {
			Account: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
			Contracts: []ContractInfo{{
				Contract: "Mixer",
				Size:     10,
				WithdrawConfig: &struct {
					WithdrawFeePercentage float64 `json:"withdrawFeePercentage"`
				}{WithdrawFeePercentage: 0.05},
			}},
		},
	}

	caps := capabilitiesFromDocument(Endpoint{URL: "http://relayer"}, doc, testNames)
	assert.Len(t, caps.SupportedChains[EVM], 1)
	_, ok := caps.Chain(EVM, 11155111)
	assert.False(t, ok, "chain without account or beneficiary")

	sub, ok := caps.Chain(Substrate, 1080)
	require.True(t, ok)
	assert.Equal(t, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", sub.Identity())
	assert.Equal(t, 0.05, sub.Contracts[0].WithdrawFeePercentage)
}

func TestRegistryRefresh(t *testing.T) {
	f := newFakeRelayer(t, testDocument())
	reg := BuildRegistry(context.Background(), []Endpoint{{URL: f.URL()}}, testNames, WithTimeout(time.Second))
	_, ok := reg.All()[0].Chain(EVM, 11155111)
	require.False(t, ok)

	doc := testDocument()
	doc.EVM["sepolia"] = ChainInfo{Account: "0x02"}
	f.setDocument(doc)
	require.NoError(t, reg.Refresh(context.Background(), f.URL()))
	_, ok = reg.All()[0].Chain(EVM, 11155111)
	assert.True(t, ok)

	f.setDocument(nil)
	assert.Error(t, reg.Refresh(context.Background(), f.URL()))
	_, ok = reg.All()[0].Chain(EVM, 11155111)
	assert.True(t, ok, "failed refresh keeps the previous entry")

	assert.Error(t, reg.Refresh(context.Background(), "http://nowhere"))
}
