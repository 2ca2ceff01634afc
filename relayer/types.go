// Package relayer discovers withdrawal relayers, picks eligible ones and
// drives a withdrawal through a relayer's websocket.
package relayer

import (
	"strings"
)

// BaseOn is the family of chains a relayer entry applies to.
type BaseOn string

const (
	EVM       BaseOn = "evm"
	Substrate BaseOn = "substrate"
)

// ChainID is the internal chain identifier chain names resolve to.
type ChainID uint64

// Endpoint is a configured relayer.
type Endpoint struct {
	URL          string `json:"url"`
	HasIPService bool   `json:"hasIpService"`
}

type RelayedContract struct {
	Address               string  `json:"address"`
	Size                  float64 `json:"size"`
	WithdrawFeePercentage float64 `json:"withdrawFeePercentage"`
	EventsWatcherEnabled  bool    `json:"eventsWatcherEnabled"`
}

type RelayedChainConfig struct {
	Account     string            `json:"account,omitempty"`
	Beneficiary string            `json:"beneficiary,omitempty"`
	Contracts   []RelayedContract `json:"contracts"`
}

// Identity is the address fees are paid to on this chain.
func (c RelayedChainConfig) Identity() string {
	if c.Beneficiary != "" {
		return c.Beneficiary
	}
	return c.Account
}

// Contract finds a relayed contract by address, ignoring case.
func (c RelayedChainConfig) Contract(address string) (RelayedContract, bool) {
	for _, ct := range c.Contracts {
		if strings.EqualFold(ct.Address, address) {
			return ct, true
		}
	}
	return RelayedContract{}, false
}

// Capabilities is what one relayer advertises. It is built once from the
// relayer's info document and never modified afterwards.
type Capabilities struct {
	Endpoint        string                                    `json:"endpoint"`
	HasIPService    bool                                      `json:"hasIpService"`
	SupportedChains map[BaseOn]map[ChainID]RelayedChainConfig `json:"supportedChains"`
}

func (c *Capabilities) Chain(base BaseOn, id ChainID) (RelayedChainConfig, bool) {
	chains, ok := c.SupportedChains[base]
	if !ok {
		return RelayedChainConfig{}, false
	}
	cfg, ok := chains[id]
	return cfg, ok
}

// ChainNameResolver maps a chain name from an info document to an internal
// chain id.
type ChainNameResolver func(base BaseOn, name string) (ChainID, bool)

// StaticChainNames resolves names from a fixed table, ignoring case.
func StaticChainNames(names map[BaseOn]map[string]ChainID) ChainNameResolver {
	lower := make(map[BaseOn]map[string]ChainID, len(names))
	for base, m := range names {
		lower[base] = make(map[string]ChainID, len(m))
		for name, id := range m {
			lower[base][strings.ToLower(name)] = id
		}
	}
	return func(base BaseOn, name string) (ChainID, bool) {
		id, ok := lower[base][strings.ToLower(name)]
		return id, ok
	}
}

// CapabilityDocument is the body of GET /api/v1/info.
type CapabilityDocument struct {
	EVM       map[string]ChainInfo `json:"evm"`
	Substrate map[string]ChainInfo `json:"substrate"`
}

type ChainInfo struct {
	Account     string         `json:"account,omitempty"`
	Beneficiary string         `json:"beneficiary,omitempty"`
	Contracts   []ContractInfo `json:"contracts"`
}

type ContractInfo struct {
	Contract              string  `json:"contract"`
	Address               string  `json:"address"`
	Size                  float64 `json:"size"`
	WithdrawFeePercentage float64 `json:"withdrawFeePercentage"`
	WithdrawConfig        *struct {
		WithdrawFeePercentage float64 `json:"withdrawFeePercentage"`
	} `json:"withdrawConfig,omitempty"`
	EventsWatcher struct {
		Enabled bool `json:"enabled"`
	} `json:"eventsWatcher"`
}

func (c ContractInfo) feePercentage() float64 {
	if c.WithdrawConfig != nil {
		return c.WithdrawConfig.WithdrawFeePercentage
	}
	return c.WithdrawFeePercentage
}

// LeavesResponse is the body of GET /api/v1/leaves/{chainIdHex}/{contract}.
type LeavesResponse struct {
	Leaves           []string `json:"leaves"`
	LastQueriedBlock string   `json:"lastQueriedBlock"`
}

// capabilitiesFromDocument validates doc at the registry boundary: chain
// names that do not resolve, and chains without an account or beneficiary,
// are left out.
func capabilitiesFromDocument(endpoint Endpoint, doc *CapabilityDocument, resolve ChainNameResolver) Capabilities {
	caps := Capabilities{
		Endpoint:        endpoint.URL,
		HasIPService:    endpoint.HasIPService,
		SupportedChains: make(map[BaseOn]map[ChainID]RelayedChainConfig),
	}
	add := func(base BaseOn, chains map[string]ChainInfo) {
		for name, info := range chains {
			id, ok := resolve(base, name)
			if !ok {
				continue
			}
			if info.Account == "" && info.Beneficiary == "" {
				continue
			}
			cfg := RelayedChainConfig{
				Account:     info.Account,
				Beneficiary: info.Beneficiary,
				Contracts:   make([]RelayedContract, 0, len(info.Contracts)),
			}
			for _, ct := range info.Contracts {
				cfg.Contracts = append(cfg.Contracts, RelayedContract{
					Address:               ct.Address,
					Size:                  ct.Size,
					WithdrawFeePercentage: ct.feePercentage(),
					EventsWatcherEnabled:  ct.EventsWatcher.Enabled,
				})
			}
			if caps.SupportedChains[base] == nil {
				caps.SupportedChains[base] = make(map[ChainID]RelayedChainConfig)
			}
			caps.SupportedChains[base][id] = cfg
		}
	}
	add(EVM, doc.EVM)
	add(Substrate, doc.Substrate)
	return caps
}
