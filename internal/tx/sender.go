package tx

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned by PendingTx.Wait when the transaction was mined
// with a failed status.
var ErrReverted = errors.New("transaction reverted")

// TxSigner signs transactions for a chain. wallet.Signer satisfies it.
type TxSigner interface {
	Address() common.Address
	SignTransaction(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Waiter blocks until a transaction is mined.
type Waiter interface {
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// PendingTx is a broadcast transaction that has not been confirmed yet.
type PendingTx struct {
	Hash   common.Hash
	Fees   SuggestedFees
	waiter Waiter
}

// NewPendingTx wraps a broadcast transaction hash.
func NewPendingTx(hash common.Hash, fees SuggestedFees, waiter Waiter) *PendingTx {
	return &PendingTx{Hash: hash, Fees: fees, waiter: waiter}
}

// Wait blocks until the transaction is mined. A mined but failed transaction
// returns its receipt together with ErrReverted.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	if p == nil || p.waiter == nil {
		return nil, fmt.Errorf("pending transaction has no waiter")
	}
	receipt, err := p.waiter.WaitMined(ctx, p.Hash)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", p.Hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s (block %v)", ErrReverted, p.Hash.Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}

// Sender builds, signs and broadcasts contract calls from one account.
type Sender struct {
	backend Backend
	signer  TxSigner
	policy  Policy
}

// NewSender creates a Sender for signer's account. The policy is used as
// given, so a zero gas headroom sends the bare estimate.
func NewSender(backend Backend, signer TxSigner, policy Policy) *Sender {
	return &Sender{backend: backend, signer: signer, policy: policy}
}

// From returns the sending account.
func (s *Sender) From() common.Address {
	return s.signer.Address()
}

// Send calls to with data and returns as soon as the node accepts the
// transaction. The chain ID is read from the node for every transaction.
func (s *Sender) Send(ctx context.Context, to common.Address, data []byte) (*PendingTx, error) {
	intent := Intent{From: s.signer.Address(), To: to, Data: data}
	if err := Validate(intent, s.policy); err != nil {
		return nil, err
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	unsigned, fees, err := BuildUnsignedTx(ctx, s.backend, chainID, intent, s.policy)
	if err != nil {
		return nil, err
	}

	signed, err := s.signer.SignTransaction(unsigned, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send tx: %w", err)
	}

	return NewPendingTx(signed.Hash(), fees, s.backend), nil
}
