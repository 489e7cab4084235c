package flow

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/permit"
)

// ApproveRegistry grants the registry an unlimited token approval and waits
// for it to be mined. It sends nothing when the approval is already unlimited.
func (r *Runner) ApproveRegistry(ctx context.Context) (*Result, error) {
	const flow = FlowApprove
	owner := r.signer.Address()
	res := &Result{Flow: flow, Owner: owner, Amount: new(big.Int).Set(permit.MaxApproval)}

	current, err := r.token.Allowance(ctx, owner, r.registryAddr)
	if err != nil {
		err = logging.RedactError(err)
		r.logger.Error("failed to read token allowance", zap.String("flow", flow), zap.Error(err))
		return nil, fmt.Errorf("%s: read token allowance: %w", flow, err)
	}
	if current.Cmp(permit.MaxApproval) == 0 {
		r.logger.Info("registry already approved",
			zap.String("flow", flow),
			zap.Stringer("token", r.tokenAddr),
			zap.Stringer("registry", r.registryAddr),
		)
		res.Skipped = true
		return res, nil
	}

	pending, err := r.token.Approve(ctx, r.registryAddr, permit.MaxApproval)
	if err := r.submitted(flow, err); err != nil {
		return nil, err
	}
	res.TxHash = pending.Hash

	receipt, err := r.wait(ctx, flow, pending)
	res.Receipt = receipt
	if err != nil {
		return res, err
	}
	return res, nil
}

// AllowanceTransferWithPermit signs a PermitSingle for the registry's current
// nonce and submits it together with a transfer of amount.
func (r *Runner) AllowanceTransferWithPermit(ctx context.Context, amount *big.Int) (*Result, error) {
	const flow = FlowAllowanceTransferWithPermit
	if err := requireAmount(flow, amount); err != nil {
		return nil, err
	}
	owner := r.signer.Address()

	state, err := r.registry.Allowance(ctx, owner, r.tokenAddr, r.appAddr)
	if err != nil {
		err = logging.RedactError(err)
		r.logger.Error("failed to read registry allowance", zap.String("flow", flow), zap.Error(err))
		return nil, fmt.Errorf("%s: read registry allowance: %w", flow, err)
	}

	chainID, err := r.liveChainID(ctx, flow)
	if err != nil {
		return nil, err
	}

	p := r.builder.Allowance(state.Nonce)
	sig, err := r.sign(flow, p.TypedData(r.registryAddr, chainID))
	if err != nil {
		return nil, err
	}

	r.logger.Info("allowance permit signed",
		zap.String("flow", flow),
		zap.Uint64("nonce", p.Details.Nonce),
		zap.Int64("expiration", p.Details.Expiration),
		zap.Int64("sig_deadline", p.SigDeadline),
		zap.Stringer("chain_id", chainID),
	)

	res := &Result{
		Flow:      flow,
		Owner:     owner,
		Amount:    new(big.Int).Set(amount),
		Signature: sig,
		Nonce:     new(big.Int).SetUint64(p.Details.Nonce),
	}

	pending, err := r.app.AllowanceTransferWithPermit(ctx, p, sig, amount)
	if err := r.submitted(flow, err); err != nil {
		return nil, err
	}
	res.TxHash = pending.Hash

	res.Receipt, err = r.wait(ctx, flow, pending)
	if err != nil {
		return res, err
	}
	return res, nil
}

// AllowanceTransferWithoutPermit pulls amount against the allowance the
// registry already holds. No signature is involved.
func (r *Runner) AllowanceTransferWithoutPermit(ctx context.Context, amount *big.Int) (*Result, error) {
	const flow = FlowAllowanceTransferWithoutPermit
	if err := requireAmount(flow, amount); err != nil {
		return nil, err
	}
	res := &Result{Flow: flow, Owner: r.signer.Address(), Amount: new(big.Int).Set(amount)}

	pending, err := r.app.AllowanceTransferWithoutPermit(ctx, r.tokenAddr, amount)
	if err := r.submitted(flow, err); err != nil {
		return nil, err
	}
	res.TxHash = pending.Hash

	res.Receipt, err = r.wait(ctx, flow, pending)
	if err != nil {
		return res, err
	}
	return res, nil
}
