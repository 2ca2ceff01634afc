package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tangle-network/anchor-sync/relayer"
	"github.com/tangle-network/anchor-sync/service"
)

type Config struct {
	Port       int
	DBPath     string
	LogLevel   string
	Sync       service.SyncConfig
	ChainRPCs  map[uint64]string
	Relayers   []relayer.Endpoint
	ChainNames map[relayer.BaseOn]map[string]relayer.ChainID
	// StartBlocks are deployment blocks of known anchors.
	StartBlocks map[service.CacheKey]uint64
	Bridges     relayer.StaticBridges
}

var defaultChainNames = map[string]relayer.ChainID{
	"ethereum":        1,
	"goerli":          5,
	"sepolia":         11155111,
	"optimismtestnet": 420,
	"arbitrumtestnet": 421613,
	"mumbai":          80001,
	"moonbase":        1287,
}

// LoadConfig reads the environment. Malformed entries are logged and
// skipped.
func LoadConfig() *Config {
	cfg := &Config{
		Port:        8090,
		DBPath:      "./data/leaves.db",
		LogLevel:    "info",
		Sync:        service.DefaultSyncConfig,
		ChainRPCs:   make(map[uint64]string),
		StartBlocks: make(map[service.CacheKey]uint64),
		Bridges:     make(relayer.StaticBridges),
		ChainNames: map[relayer.BaseOn]map[string]relayer.ChainID{
			relayer.EVM:       make(map[string]relayer.ChainID),
			relayer.Substrate: make(map[string]relayer.ChainID),
		},
	}
	for name, id := range defaultChainNames {
		cfg.ChainNames[relayer.EVM][name] = id
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TREE_HEIGHT"); v != "" {
		if h, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Height = h
		}
	}
	if v := os.Getenv("TREE_HASHER"); v != "" {
		cfg.Sync.Hasher = v
	}

	// CHAIN_RPCS=5=https://rpc.goerli,80001=wss://rpc.mumbai
	for k, v := range pairs("CHAIN_RPCS") {
		if id, err := strconv.ParseUint(k, 0, 64); err == nil {
			cfg.ChainRPCs[id] = v
		} else {
			log.Warn("ignoring chain rpc", "chain", k, "err", err)
		}
	}

	// LOG_CHUNK_SIZES=1287=1024
	sizes := make(map[uint64]uint64, len(cfg.Sync.ChunkSizes))
	for id, size := range cfg.Sync.ChunkSizes {
		sizes[id] = size
	}
	for k, v := range pairs("LOG_CHUNK_SIZES") {
		id, err1 := strconv.ParseUint(k, 0, 64)
		size, err2 := strconv.ParseUint(v, 0, 64)
		if err1 != nil || err2 != nil || size == 0 {
			log.Warn("ignoring log chunk size", "chain", k, "size", v)
			continue
		}
		sizes[id] = size
	}
	cfg.Sync.ChunkSizes = sizes

	// CHAIN_NAMES=evm:hermes=5001,substrate:tangle=1081
	for k, v := range pairs("CHAIN_NAMES") {
		base, name := relayer.EVM, k
		if b, n, ok := strings.Cut(k, ":"); ok {
			base, name = relayer.BaseOn(b), n
		}
		id, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			log.Warn("ignoring chain name", "name", k, "err", err)
			continue
		}
		if cfg.ChainNames[base] == nil {
			cfg.ChainNames[base] = make(map[string]relayer.ChainID)
		}
		cfg.ChainNames[base][name] = relayer.ChainID(id)
	}

	// START_BLOCKS=5:0xabc...=8012345
	for k, v := range pairs("START_BLOCKS") {
		chain, addr, ok := strings.Cut(k, ":")
		id, err1 := strconv.ParseUint(chain, 0, 64)
		block, err2 := strconv.ParseUint(v, 0, 64)
		if !ok || err1 != nil || err2 != nil || !common.IsHexAddress(addr) {
			log.Warn("ignoring start block", "key", k, "block", v)
			continue
		}
		cfg.StartBlocks[service.CacheKey{ChainID: id, Contract: common.HexToAddress(addr)}] = block
	}

	// BRIDGES=5:1:ETH=0xabc...,80001:0.1:WETH=0xdef...
	for k, v := range pairs("BRIDGES") {
		parts := strings.Split(k, ":")
		if len(parts) != 3 || !common.IsHexAddress(v) {
			log.Warn("ignoring bridge", "key", k, "address", v)
			continue
		}
		id, err1 := strconv.ParseUint(parts[0], 0, 64)
		size, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || parts[2] == "" {
			log.Warn("ignoring bridge", "key", k, "address", v)
			continue
		}
		cfg.Bridges[relayer.BridgeKey{Chain: relayer.ChainID(id), Size: size, Symbol: strings.ToUpper(parts[2])}] = v
	}

	// RELAYERS=https://relayer1.example,https://relayer2.example
	// IP_RELAYERS lists the subset that also serves /api/v1/ip
	ipService := make(map[string]bool)
	for _, u := range list("IP_RELAYERS") {
		ipService[u] = true
	}
	for _, u := range list("RELAYERS") {
		cfg.Relayers = append(cfg.Relayers, relayer.Endpoint{URL: u, HasIPService: ipService[u]})
	}

	return cfg
}

func list(env string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(env), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.TrimRight(item, "/"))
		}
	}
	return out
}

func pairs(env string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(os.Getenv(env), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}
