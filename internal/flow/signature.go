package flow

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/store"
	"github.com/yolodolo42/permitflow/internal/tx"
)

// SignatureTransfer signs a one-shot PermitTransferFrom for exactly amount
// and submits it.
func (r *Runner) SignatureTransfer(ctx context.Context, amount *big.Int) (*Result, error) {
	return r.signatureTransfer(ctx, FlowSignatureTransfer, amount, nil)
}

// SignatureTransferWithWitness is SignatureTransfer with Witness(address user)
// bound into the signature.
func (r *Runner) SignatureTransferWithWitness(ctx context.Context, amount *big.Int, user common.Address) (*Result, error) {
	return r.signatureTransfer(ctx, FlowSignatureTransferWithWitness, amount, &user)
}

// user is nil for a plain transfer.
func (r *Runner) signatureTransfer(ctx context.Context, flow string, amount *big.Int, user *common.Address) (*Result, error) {
	if err := requireAmount(flow, amount); err != nil {
		return nil, err
	}
	var witness *permit.Witness
	if user != nil {
		witness = permit.UserWitness(*user)
	}
	owner := r.signer.Address()

	chainID, err := r.liveChainID(ctx, flow)
	if err != nil {
		return nil, err
	}

	p, key, err := r.reserveTransfer(ctx, flow, owner, chainID, amount, witness)
	if err != nil {
		return nil, err
	}

	// The reservation is released unless the nonce may have been consumed.
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := r.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
			r.logger.Warn("failed to release nonce", zap.String("flow", flow), zap.Error(err))
		}
	}()

	td, err := p.TypedData(r.registryAddr, chainID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", flow, err)
	}
	sig, err := r.sign(flow, td)
	if err != nil {
		return nil, err
	}

	r.logger.Info("transfer permit signed",
		zap.String("flow", flow),
		zap.Stringer("nonce", p.Nonce),
		zap.Stringer("amount", p.Permitted.Amount),
		zap.Int64("deadline", p.Deadline),
		zap.Stringer("chain_id", chainID),
	)

	res := &Result{
		Flow:      flow,
		Owner:     owner,
		Amount:    new(big.Int).Set(amount),
		Signature: sig,
		Nonce:     new(big.Int).Set(p.Nonce),
	}

	var pending *tx.PendingTx
	if user != nil {
		pending, err = r.app.SignatureTransferWithWitness(ctx, p, *user, sig)
	} else {
		pending, err = r.app.SignatureTransfer(ctx, p, sig)
	}
	if err := r.submitted(flow, err); err != nil {
		return nil, err
	}
	res.TxHash = pending.Hash

	res.Receipt, err = r.wait(ctx, flow, pending)
	switch {
	case err == nil:
		keep = true
		if err := r.ledger.MarkUsed(ctx, key); err != nil {
			r.logger.Warn("failed to mark nonce used", zap.String("flow", flow), zap.Error(err))
		}
		return res, nil
	case errors.Is(err, tx.ErrReverted):
		// A reverted transfer leaves the nonce unused on chain.
		return res, err
	default:
		// Unknown outcome: leave the reservation to expire.
		keep = true
		return res, err
	}
}

// reserveTransfer builds a transfer permit whose nonce is free on chain and
// claimed in the ledger, redrawing a bounded number of times.
func (r *Runner) reserveTransfer(ctx context.Context, flow string, owner common.Address, chainID, amount *big.Int, witness *permit.Witness) (permit.TransferPermit, store.NonceKey, error) {
	for attempt := 1; attempt <= maxNonceDraws; attempt++ {
		var (
			p   permit.TransferPermit
			err error
		)
		if witness != nil {
			p, err = r.builder.TransferWithWitness(amount, witness)
		} else {
			p, err = r.builder.Transfer(amount)
		}
		if err != nil {
			return permit.TransferPermit{}, store.NonceKey{}, fmt.Errorf("%s: build permit: %w", flow, err)
		}

		used, err := r.registry.IsNonceUsed(ctx, owner, p.Nonce)
		if err != nil {
			err = logging.RedactError(err)
			r.logger.Error("failed to read nonce bitmap", zap.String("flow", flow), zap.Error(err))
			return permit.TransferPermit{}, store.NonceKey{}, fmt.Errorf("%s: read nonce bitmap: %w", flow, err)
		}
		if used {
			r.logger.Debug("nonce used on chain, redrawing", zap.String("flow", flow), zap.Stringer("nonce", p.Nonce))
			continue
		}

		key := store.NonceKey{ChainID: chainID.Uint64(), Owner: owner, Nonce: p.Nonce}
		err = r.ledger.Reserve(ctx, key)
		if errors.Is(err, store.ErrNonceAlreadyUsed) {
			r.logger.Debug("nonce taken in ledger, redrawing", zap.String("flow", flow), zap.Stringer("nonce", p.Nonce))
			continue
		}
		if err != nil {
			return permit.TransferPermit{}, store.NonceKey{}, fmt.Errorf("%s: %w", flow, err)
		}
		return p, key, nil
	}
	return permit.TransferPermit{}, store.NonceKey{}, fmt.Errorf("%s: %w after %d draws", flow, ErrNoFreeNonce, maxNonceDraws)
}
