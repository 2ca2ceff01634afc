package service

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tangle-network/anchor-sync/relayer"
	"github.com/tangle-network/anchor-sync/tree"
)

// Cancel is checked only at fixed checkpoints of a withdrawal; it never
// interrupts a network call or a proof in progress.
type Cancel struct {
	flag atomic.Bool
}

func (c *Cancel) Cancel() { c.flag.Store(true) }

func (c *Cancel) Cancelled() bool { return c != nil && c.flag.Load() }

type WithdrawRequest struct {
	// Key is the anchor withdrawn from.
	Key CacheKey
	// Source, when set, is the anchor the deposit was made on; the proof is
	// then built against Key's edge for Source.
	Source    *CacheKey
	Note      Note
	Recipient common.Address
	Fee       *big.Int
	Refund    *big.Int
	// Relayer submits the withdrawal; nil means the caller submits the
	// returned proof itself.
	Relayer *relayer.Capabilities
	// ChainName is the relayer's name for Key's chain.
	ChainName  string
	UseRelayer bool
}

type WithdrawResult struct {
	Witness *Witness
	Proof   *Proof
	// Relayed is set when a relayer session ran.
	Relayed *relayer.Result
}

// Withdraw assembles the witness, runs the prover and, if a relayer is
// given, hands the proof to it and waits for the outcome.
func (s *ProofService) Withdraw(ctx context.Context, req WithdrawRequest, cancel *Cancel) (*WithdrawResult, error) {
	if s.prover == nil {
		return nil, fmt.Errorf("service: no prover configured")
	}

	var relayerAddr common.Address
	if req.Relayer != nil {
		cfg, ok := req.Relayer.Chain(relayer.EVM, relayer.ChainID(req.Key.ChainID))
		if !ok || !common.IsHexAddress(cfg.Identity()) {
			return nil, fmt.Errorf("%w: %s does not relay chain %d", ErrNoRelayer, req.Relayer.Endpoint, req.Key.ChainID)
		}
		relayerAddr = common.HexToAddress(cfg.Identity())
	}

	path, roots, err := s.withdrawPath(ctx, req)
	if err != nil {
		return nil, err
	}
	w := &Witness{
		Root:          path.Root,
		Roots:         roots,
		PathElements:  path.PathElements,
		PathIndices:   path.PathIndices,
		Nullifier:     req.Note.Nullifier,
		Secret:        req.Note.Secret,
		NullifierHash: req.Note.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       relayerAddr,
		Fee:           bigOrZero(req.Fee),
		Refund:        bigOrZero(req.Refund),
	}

	if cancel.Cancelled() {
		return nil, ErrCancelled
	}
	proof, err := s.prover.Prove(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	if cancel.Cancelled() {
		return nil, ErrCancelled
	}

	result := &WithdrawResult{Witness: w, Proof: proof}
	if req.Relayer == nil {
		return result, nil
	}

	session, err := relayer.Dial(ctx, req.Relayer.Endpoint, s.session)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	if cancel.Cancelled() {
		return nil, ErrCancelled
	}
	err = session.Send(relayer.AnchorRelayTx{
		Chain:         req.ChainName,
		Contract:      req.Key.Contract,
		Proof:         proof.Data,
		Roots:         roots,
		NullifierHash: req.Note.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       relayerAddr,
		Fee:           w.Fee,
		Refund:        w.Refund,
	})
	if err != nil {
		return nil, err
	}
	relayed, err := session.Await(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("relayed withdrawal finished", "relayer", req.Relayer.Endpoint, "status", relayed.Status, "tx", relayed.TxHash, "reason", relayed.Reason)
	result.Relayed = &relayed
	return result, nil
}

// withdrawPath returns the deposit's path and the root set the contract
// checks it against.
func (s *ProofService) withdrawPath(ctx context.Context, req WithdrawRequest) (*tree.Path, []common.Hash, error) {
	if req.Source == nil || *req.Source == req.Key {
		path, err := s.Proof(ctx, req.Key, req.Note.Commitment, req.UseRelayer)
		if err != nil {
			return nil, nil, err
		}
		return path, []common.Hash{path.Root}, nil
	}

	path, _, err := s.LinkedProof(ctx, LinkedProofRequest{
		Source:      *req.Source,
		Destination: req.Key,
		Commitment:  req.Note.Commitment,
		UseRelayer:  req.UseRelayer,
	})
	if err != nil {
		return nil, nil, err
	}
	dest, err := s.chain(req.Key.ChainID)
	if err != nil {
		return nil, nil, err
	}
	local, err := dest.CurrentRoot(ctx, req.Key.Contract)
	if err != nil {
		return nil, nil, err
	}
	return path, []common.Hash{local, path.Root}, nil
}
