package relayer

import "strings"

// BridgeResolver maps a bridge denomination to the anchor contract that
// holds it on a chain.
type BridgeResolver interface {
	BridgeAddress(chain ChainID, size float64, symbol string) (string, bool)
}

// BridgeKey names one bridge denomination on a chain.
type BridgeKey struct {
	Chain  ChainID
	Size   float64
	Symbol string
}

// StaticBridges resolves bridges from a fixed table. Symbols are compared
// case-insensitively.
type StaticBridges map[BridgeKey]string

func (b StaticBridges) BridgeAddress(chain ChainID, size float64, symbol string) (string, bool) {
	addr, ok := b[BridgeKey{Chain: chain, Size: size, Symbol: strings.ToUpper(symbol)}]
	return addr, ok
}

type ContractFilter struct {
	BaseOn  BaseOn
	Chain   ChainID
	Address string
}

type BridgeFilter struct {
	BaseOn BaseOn
	Chain  ChainID
	Size   float64
	Symbol string
}

type ChainFilter struct {
	BaseOn BaseOn
	Chain  ChainID
}

// Predicate is a conjunction; nil filters are ignored.
type Predicate struct {
	IPService bool
	// Contract additionally requires the relayer to watch the contract's
	// events, otherwise it cannot serve leaves for it.
	Contract *ContractFilter
	Bridge   *BridgeFilter
	Chain    *ChainFilter
}

func (r *Registry) matches(caps *Capabilities, p Predicate) bool {
	if p.IPService && !caps.HasIPService {
		return false
	}
	if f := p.Chain; f != nil {
		if _, ok := caps.Chain(f.BaseOn, f.Chain); !ok {
			return false
		}
	}
	if f := p.Contract; f != nil {
		if !supportsContract(caps, f.BaseOn, f.Chain, f.Address, true) {
			return false
		}
	}
	if f := p.Bridge; f != nil {
		if r.bridges == nil {
			return false
		}
		address, ok := r.bridges.BridgeAddress(f.Chain, f.Size, f.Symbol)
		if !ok || !supportsContract(caps, f.BaseOn, f.Chain, address, false) {
			return false
		}
	}
	return true
}

func supportsContract(caps *Capabilities, base BaseOn, chain ChainID, address string, needEvents bool) bool {
	cfg, ok := caps.Chain(base, chain)
	if !ok {
		return false
	}
	ct, ok := cfg.Contract(address)
	if !ok {
		return false
	}
	return !needEvents || ct.EventsWatcherEnabled
}

// Query returns the relayers satisfying p in uniformly random order, so
// callers that take the first one spread load and can fail over to the next.
func (r *Registry) Query(p Predicate) []Capabilities {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Capabilities
	for _, ep := range r.order {
		caps := r.entries[ep]
		if r.matches(&caps, p) {
			out = append(out, caps)
		}
	}
	r.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
