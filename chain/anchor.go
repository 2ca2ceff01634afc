package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// anchorABI covers the anchor views and the insertion event the sync engine
// depends on.
const anchorABI = `[
	{"type":"event","name":"Insertion","anonymous":false,"inputs":[
		{"name":"commitment","type":"bytes32","indexed":true},
		{"name":"leafIndex","type":"uint32","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"function","name":"getLastRoot","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"isKnownRoot","stateMutability":"view",
		"inputs":[{"name":"root","type":"bytes32"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"edgeExistsForChain","stateMutability":"view",
		"inputs":[{"name":"chainID","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"edgeIndex","stateMutability":"view",
		"inputs":[{"name":"chainID","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"edgeList","stateMutability":"view",
		"inputs":[{"name":"index","type":"uint256"}],
		"outputs":[
			{"name":"chainID","type":"uint256"},
			{"name":"root","type":"bytes32"},
			{"name":"latestLeafIndex","type":"uint256"},
			{"name":"srcResourceID","type":"bytes32"}]}
]`

var AnchorABI abi.ABI

func init() {
	var err error
	AnchorABI, err = abi.JSON(strings.NewReader(anchorABI))
	if err != nil {
		panic(err)
	}
}
