package relayer

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Command is one withdraw request. Each protocol variant has its own argument
// struct; EncodeCommand wraps any of them in the same envelope.
type Command interface {
	BaseOn() BaseOn
	CommandKey() string
}

// AnchorRelayTx withdraws from an EVM anchor.
type AnchorRelayTx struct {
	Chain             string         `json:"chain"`
	Contract          common.Address `json:"contract"`
	Proof             hexutil.Bytes  `json:"proof"`
	Roots             []common.Hash  `json:"roots"`
	NullifierHash     common.Hash    `json:"nullifierHash"`
	Recipient         common.Address `json:"recipient"`
	Relayer           common.Address `json:"relayer"`
	Fee               *hexutil.Big   `json:"fee"`
	Refund            *hexutil.Big   `json:"refund"`
	RefreshCommitment common.Hash    `json:"refreshCommitment"`
}

func (AnchorRelayTx) BaseOn() BaseOn     { return EVM }
func (AnchorRelayTx) CommandKey() string { return "anchorRelayTx" }

// SubstrateMixerRelayTx withdraws from a substrate mixer tree. Byte fields
// travel as arrays of numbers.
type SubstrateMixerRelayTx struct {
	Chain         string    `json:"chain"`
	ID            uint32    `json:"id"`
	Proof         ByteArray `json:"proof"`
	Root          ByteArray `json:"root"`
	NullifierHash ByteArray `json:"nullifierHash"`
	Recipient     string    `json:"recipient"`
	Relayer       string    `json:"relayer"`
	Fee           *big.Int  `json:"fee"`
	Refund        *big.Int  `json:"refund"`
}

func (SubstrateMixerRelayTx) BaseOn() BaseOn     { return Substrate }
func (SubstrateMixerRelayTx) CommandKey() string { return "mixerRelayTx" }

// ByteArray marshals as a JSON array of byte values instead of base64.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// EncodeCommand produces {baseOn: {commandKey: args}}.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("relayer: nil command")
	}
	return json.Marshal(map[BaseOn]map[string]Command{
		cmd.BaseOn(): {cmd.CommandKey(): cmd},
	})
}
