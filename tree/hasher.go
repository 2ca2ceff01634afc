package tree

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Hasher combines two child nodes into their parent and supplies the value
// of an empty leaf.
type Hasher interface {
	Name() string
	Hash(left, right common.Hash) common.Hash
	Zero() common.Hash
}

const (
	Poseidon  = "poseidon"
	Keccak256 = "keccak256"
	SHA256    = "sha256"
	MiMCBN254 = "mimc-bn254"
)

// FieldZero is keccak256("tornado") reduced into the BN254 scalar field. It
// is the empty leaf of anchor trees, which hash their nodes with Poseidon;
// the keccak256 hasher only borrows it.
var FieldZero = common.BigToHash(mustBig("21663839004416932945382355908790599225266501822907911457504978515578255421292"))

func GetHasher(name string) (Hasher, error) {
	switch name {
	case Poseidon, "":
		return poseidonHasher{}, nil
	case Keccak256:
		return keccakHasher{}, nil
	case SHA256:
		return sha256Hasher{}, nil
	case MiMCBN254:
		return mimcHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hasher: %s", name)
	}
}

// poseidonHasher is circomlib's Poseidon over BN254 with two inputs, as the
// anchor contracts and their circuits use it.
type poseidonHasher struct{}

func (poseidonHasher) Name() string { return Poseidon }

func (poseidonHasher) Hash(left, right common.Hash) common.Hash {
	out, err := poseidon.Hash([]*big.Int{toFieldInt(left), toFieldInt(right)})
	if err != nil {
		// inputs are reduced, so only a broken build of the constants gets here
		panic(fmt.Sprintf("poseidon: %v", err))
	}
	return common.BigToHash(out)
}

func (poseidonHasher) Zero() common.Hash { return FieldZero }

type keccakHasher struct{}

func (keccakHasher) Name() string { return Keccak256 }

func (keccakHasher) Hash(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

func (keccakHasher) Zero() common.Hash { return FieldZero }

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return SHA256 }

func (sha256Hasher) Hash(left, right common.Hash) common.Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	return common.BytesToHash(h.Sum(nil))
}

// Zero is the hash of a zero-padded empty leaf.
func (sha256Hasher) Zero() common.Hash {
	return sha256.Sum256(make([]byte, common.HashLength))
}

type mimcHasher struct{}

func (mimcHasher) Name() string { return MiMCBN254 }

func (mimcHasher) Hash(left, right common.Hash) common.Hash {
	h := mimc.NewMiMC()
	// inputs are reduced first so Write never sees a non-canonical element
	l, r := toField(left), toField(right)
	h.Write(l[:])
	h.Write(r[:])
	return common.BytesToHash(h.Sum(nil))
}

func (mimcHasher) Zero() common.Hash { return FieldZero }

func toField(v common.Hash) [fr.Bytes]byte {
	var e fr.Element
	e.SetBytes(v[:])
	return e.Bytes()
}

func toFieldInt(v common.Hash) *big.Int {
	return new(big.Int).Mod(v.Big(), fr.Modulus())
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big.Int: " + s)
	}
	return v
}
