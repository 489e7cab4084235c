// Package flow runs the Permit2 workflows end to end: read chain state, build
// the permit, sign it, submit it through the app contract and wait for the
// receipt.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/yolodolo42/permitflow/internal/contracts"
	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/store"
	"github.com/yolodolo42/permitflow/internal/tx"
)

// Flow names, used for dispatch, logs and stored receipts.
const (
	FlowApprove                        = "approve"
	FlowAllowanceTransferWithPermit    = "allowanceTransferWithPermit"
	FlowAllowanceTransferWithoutPermit = "allowanceTransferWithoutPermit"
	FlowSignatureTransfer              = "signatureTransfer"
	FlowSignatureTransferWithWitness   = "signatureTransferWithWitness"
)

// Flows lists every flow in the order a first run needs them.
var Flows = []string{
	FlowApprove,
	FlowAllowanceTransferWithPermit,
	FlowAllowanceTransferWithoutPermit,
	FlowSignatureTransfer,
	FlowSignatureTransferWithWitness,
}

var (
	ErrSignerMismatch = errors.New("signature does not recover to the wallet address")
	ErrNoFreeNonce    = errors.New("could not draw an unused nonce")
	ErrUnknownFlow    = errors.New("unknown flow")
)

// maxNonceDraws bounds redraws when a random nonce is already taken.
const maxNonceDraws = 8

// ChainReader reports the identity of the connected network.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// TypedSigner produces EIP-712 signatures. wallet.Signer satisfies it.
type TypedSigner interface {
	Address() common.Address
	SignTypedData(typedData apitypes.TypedData) ([]byte, error)
}

// Token is the ERC-20 surface the flows use.
type Token interface {
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*tx.PendingTx, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
	Symbol(ctx context.Context) (string, error)
}

// Registry is the Permit2 surface the flows read.
type Registry interface {
	Allowance(ctx context.Context, owner, token, spender common.Address) (contracts.AllowanceState, error)
	IsNonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) (bool, error)
	DomainSeparator(ctx context.Context) (common.Hash, error)
}

// App is the Permit2App surface the flows submit to.
type App interface {
	AllowanceTransferWithPermit(ctx context.Context, p permit.AllowancePermit, sig []byte, amount *big.Int) (*tx.PendingTx, error)
	AllowanceTransferWithoutPermit(ctx context.Context, token common.Address, amount *big.Int) (*tx.PendingTx, error)
	SignatureTransfer(ctx context.Context, p permit.TransferPermit, sig []byte) (*tx.PendingTx, error)
	SignatureTransferWithWitness(ctx context.Context, p permit.TransferPermit, user common.Address, sig []byte) (*tx.PendingTx, error)
}

// ReceiptSink stores confirmed receipts. *store.ReceiptStore satisfies it.
type ReceiptSink interface {
	Upsert(ctx context.Context, chain, flow string, receipt *types.Receipt) error
}

// Deps are the collaborators of a Runner. Everything is constructed once at
// process entry and handed in.
type Deps struct {
	Chain    ChainReader
	Signer   TypedSigner
	Token    Token
	Registry Registry
	App      App

	TokenAddress    common.Address
	RegistryAddress common.Address
	AppAddress      common.Address

	Policy      permit.Policy
	WitnessUser common.Address

	// Ledger defaults to a process-local ledger.
	Ledger store.NonceLedger
	// Receipts is optional.
	Receipts  ReceiptSink
	ChainName string

	// WaitTimeout bounds each confirmation wait; zero waits for ctx.
	WaitTimeout time.Duration

	Logger *zap.Logger

	// Now and Rand default to the wall clock and crypto/rand.
	Now  func() time.Time
	Rand io.Reader
}

// Runner executes the flows for one owner, token and app.
type Runner struct {
	chain    ChainReader
	signer   TypedSigner
	token    Token
	registry Registry
	app      App

	tokenAddr    common.Address
	registryAddr common.Address
	appAddr      common.Address

	builder     *permit.Builder
	witnessUser common.Address

	ledger      store.NonceLedger
	receipts    ReceiptSink
	chainName   string
	waitTimeout time.Duration
	logger      *zap.Logger
}

// Result describes a completed flow.
type Result struct {
	Flow    string
	Owner   common.Address
	TxHash  common.Hash
	Receipt *types.Receipt
	Amount  *big.Int

	// Set by the signed flows.
	Signature []byte
	Nonce     *big.Int

	// Skipped is true when nothing had to be sent.
	Skipped bool
}

// New validates d and builds a Runner.
func New(d Deps) (*Runner, error) {
	switch {
	case d.Chain == nil:
		return nil, fmt.Errorf("flow: chain reader is required")
	case d.Signer == nil:
		return nil, fmt.Errorf("flow: signer is required")
	case d.Token == nil || d.Registry == nil || d.App == nil:
		return nil, fmt.Errorf("flow: token, registry and app are required")
	case d.AppAddress == (common.Address{}):
		return nil, fmt.Errorf("flow: app address is required")
	}

	registryAddr := d.RegistryAddress
	if registryAddr == (common.Address{}) {
		registryAddr = permit.DefaultRegistryAddress
	}
	policy := d.Policy
	if policy == (permit.Policy{}) {
		policy = permit.DefaultPolicy()
	}
	ledger := d.Ledger
	if ledger == nil {
		ledger = store.NewMemoryLedger()
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	builder := permit.NewBuilder(d.TokenAddress, d.AppAddress, policy)
	if d.Now != nil {
		builder.Now = d.Now
	}
	if d.Rand != nil {
		builder.Rand = d.Rand
	}

	return &Runner{
		chain:        d.Chain,
		signer:       d.Signer,
		token:        d.Token,
		registry:     d.Registry,
		app:          d.App,
		tokenAddr:    d.TokenAddress,
		registryAddr: registryAddr,
		appAddr:      d.AppAddress,
		builder:      builder,
		witnessUser:  d.WitnessUser,
		ledger:       ledger,
		receipts:     d.Receipts,
		chainName:    d.ChainName,
		waitTimeout:  d.WaitTimeout,
		logger:       logger,
	}, nil
}

// Owner is the wallet that signs permits and sends transactions.
func (r *Runner) Owner() common.Address {
	return r.signer.Address()
}

// Run dispatches to the flow called name. Approve ignores amount.
func (r *Runner) Run(ctx context.Context, name string, amount *big.Int) (*Result, error) {
	switch name {
	case FlowApprove:
		return r.ApproveRegistry(ctx)
	case FlowAllowanceTransferWithPermit:
		return r.AllowanceTransferWithPermit(ctx, amount)
	case FlowAllowanceTransferWithoutPermit:
		return r.AllowanceTransferWithoutPermit(ctx, amount)
	case FlowSignatureTransfer:
		return r.SignatureTransfer(ctx, amount)
	case FlowSignatureTransferWithWitness:
		return r.SignatureTransferWithWitness(ctx, amount, r.witnessUser)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
	}
}

// liveChainID asks the node for its chain ID. Signatures are always bound to
// the chain the node reports at signing time.
func (r *Runner) liveChainID(ctx context.Context, flow string) (*big.Int, error) {
	chainID, err := r.chain.ChainID(ctx)
	if err != nil {
		err = logging.RedactError(err)
		r.logger.Error("failed to read chain id", zap.String("flow", flow), zap.Error(err))
		return nil, fmt.Errorf("%s: read chain id: %w", flow, err)
	}
	return chainID, nil
}

// sign signs td and checks that the signature recovers to the wallet.
func (r *Runner) sign(flow string, td apitypes.TypedData) ([]byte, error) {
	sig, err := r.signer.SignTypedData(td)
	if err != nil {
		r.logger.Error("signing failed", zap.String("flow", flow), zap.Error(err))
		return nil, fmt.Errorf("%s: sign %s: %w", flow, td.PrimaryType, err)
	}

	recovered, err := permit.Recover(td, sig)
	if err != nil {
		return nil, fmt.Errorf("%s: verify signature: %w", flow, err)
	}
	if recovered != r.signer.Address() {
		r.logger.Error("signature recovers to a different address",
			zap.String("flow", flow),
			zap.Stringer("expected", r.signer.Address()),
			zap.Stringer("recovered", recovered),
		)
		return nil, fmt.Errorf("%s: %w: got %s", flow, ErrSignerMismatch, recovered.Hex())
	}

	r.logger.Debug("permit signed",
		zap.String("flow", flow),
		zap.String("primary_type", td.PrimaryType),
		zap.String("domain_chain_id", (*big.Int)(td.Domain.ChainId).String()),
	)
	return sig, nil
}

// wait blocks for the receipt of pending and records it.
func (r *Runner) wait(ctx context.Context, flow string, pending *tx.PendingTx) (*types.Receipt, error) {
	r.logger.Info("transaction sent",
		zap.String("flow", flow),
		zap.Stringer("tx", pending.Hash),
		zap.Uint64("gas_limit", pending.Fees.GasLimit),
	)

	waitCtx := ctx
	if r.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.waitTimeout)
		defer cancel()
	}

	receipt, err := pending.Wait(waitCtx)
	if receipt != nil {
		r.record(ctx, flow, receipt)
	}
	if err != nil {
		err = logging.RedactError(err)
		r.logger.Error("transaction failed",
			zap.String("flow", flow),
			zap.Stringer("tx", pending.Hash),
			zap.Error(err),
		)
		return receipt, fmt.Errorf("%s: %w", flow, err)
	}

	r.logger.Info("transaction confirmed",
		zap.String("flow", flow),
		zap.Stringer("tx", pending.Hash),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.Stringer("block", receipt.BlockNumber),
	)
	return receipt, nil
}

func (r *Runner) record(ctx context.Context, flow string, receipt *types.Receipt) {
	if r.receipts == nil {
		return
	}
	if err := r.receipts.Upsert(ctx, r.chainName, flow, receipt); err != nil {
		// The transaction is final either way.
		r.logger.Warn("failed to persist receipt", zap.String("flow", flow), zap.Error(err))
	}
}

func (r *Runner) submitted(flow string, err error) error {
	if err != nil {
		err = logging.RedactError(err)
		r.logger.Error("submission failed", zap.String("flow", flow), zap.Error(err))
		return fmt.Errorf("%s: submit: %w", flow, err)
	}
	return nil
}

func requireAmount(flow string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%s: amount must be positive", flow)
	}
	return nil
}
