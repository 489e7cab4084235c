package flow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yolodolo42/permitflow/internal/contracts"
	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/store"
	"github.com/yolodolo42/permitflow/internal/tx"
	"github.com/yolodolo42/permitflow/internal/wallet"
)

const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var witnessUser = common.HexToAddress("0x0000000000000000000000000000000000001337")

type recordedReceipt struct {
	chain, flow string
	receipt     *types.Receipt
}

type recordingSink struct {
	saved []recordedReceipt
}

func (r *recordingSink) Upsert(_ context.Context, chain, flow string, receipt *types.Receipt) error {
	r.saved = append(r.saved, recordedReceipt{chain, flow, receipt})
	return nil
}

type harness struct {
	sim      *simChain
	runner   *Runner
	signer   *wallet.PrivateKeySigner
	ledger   *store.MemoryLedger
	receipts *recordingSink
	app      *contracts.App
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	signer, err := wallet.NewPrivateKeySigner(devKey)
	require.NoError(t, err)

	sim := newSimChain(t, signer.Address())
	h := &harness{
		sim:      sim,
		signer:   signer,
		ledger:   store.NewMemoryLedger(),
		receipts: &recordingSink{},
		app:      contracts.NewApp(sim.app, contracts.AppABI, sim),
	}

	deps := Deps{
		Chain:           sim,
		Signer:          signer,
		Token:           contracts.NewToken(sim.token, sim, sim),
		Registry:        contracts.NewRegistry(sim.registry, sim),
		App:             h.app,
		TokenAddress:    sim.token,
		RegistryAddress: sim.registry,
		AppAddress:      sim.app,
		Policy:          permit.DefaultPolicy(),
		WitnessUser:     witnessUser,
		Ledger:          h.ledger,
		Receipts:        h.receipts,
		ChainName:       "sepolia",
		WaitTimeout:     time.Second,
		Logger:          zaptest.NewLogger(t),
		Now:             sim.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.runner, err = New(deps)
	require.NoError(t, err)
	return h
}

var tenthToken = big.NewInt(100_000_000_000_000_000)

// bootstrap approves the registry and grants the app an allowance.
func (h *harness) bootstrap(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := h.runner.ApproveRegistry(ctx)
	require.NoError(t, err)
	_, err = h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
	require.NoError(t, err)
}

// signedTransfer signs a transfer permit the way the runner does, without
// submitting it.
func (h *harness) signedTransfer(t *testing.T, amount *big.Int, w *permit.Witness) (permit.TransferPermit, []byte) {
	t.Helper()
	var (
		p   permit.TransferPermit
		err error
	)
	if w != nil {
		p, err = h.runner.builder.TransferWithWitness(amount, w)
	} else {
		p, err = h.runner.builder.Transfer(amount)
	}
	require.NoError(t, err)

	td, err := p.TypedData(h.sim.registry, h.sim.chainID)
	require.NoError(t, err)
	sig, err := h.runner.sign("test", td)
	require.NoError(t, err)
	return p, sig
}

func TestNew(t *testing.T) {
	signer, err := wallet.NewPrivateKeySigner(devKey)
	require.NoError(t, err)
	sim := newSimChain(t, signer.Address())

	t.Run("requires collaborators", func(t *testing.T) {
		_, err := New(Deps{})
		assert.Error(t, err)

		_, err = New(Deps{Chain: sim, Signer: signer})
		assert.Error(t, err)
	})

	t.Run("requires an app address", func(t *testing.T) {
		_, err := New(Deps{
			Chain: sim, Signer: signer,
			Token:    contracts.NewToken(sim.token, sim, sim),
			Registry: contracts.NewRegistry(sim.registry, sim),
			App:      contracts.NewApp(sim.app, contracts.AppABI, sim),
		})
		assert.Error(t, err)
	})

	t.Run("fills defaults", func(t *testing.T) {
		r, err := New(Deps{
			Chain: sim, Signer: signer,
			Token:      contracts.NewToken(sim.token, sim, sim),
			Registry:   contracts.NewRegistry(sim.registry, sim),
			App:        contracts.NewApp(sim.app, contracts.AppABI, sim),
			AppAddress: sim.app,
		})
		require.NoError(t, err)
		assert.Equal(t, permit.DefaultRegistryAddress, r.registryAddr)
		assert.Equal(t, permit.DefaultPolicy(), r.builder.Policy)
		assert.NotNil(t, r.ledger)
		assert.Equal(t, signer.Address(), r.Owner())
	})
}

func TestEndToEnd_ApproveThenAllowanceWithPermit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	owner := h.signer.Address()

	t.Run("bootstrap approval is confirmed", func(t *testing.T) {
		require.Equal(t, 0, h.sim.approval(owner, h.sim.registry).Sign())

		res, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		require.NotNil(t, res.Receipt)
		assert.Equal(t, types.ReceiptStatusSuccessful, res.Receipt.Status)
		assert.Equal(t, 0, h.sim.approval(owner, h.sim.registry).Cmp(permit.MaxApproval))
	})

	t.Run("approval is idempotent", func(t *testing.T) {
		sent := h.sim.sent
		res, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, sent, h.sim.sent)
	})

	t.Run("permit with registry nonce 0 advances it to 1", func(t *testing.T) {
		amount, err := h.runner.ParseAmount(ctx, "0.1")
		require.NoError(t, err)
		assert.Zero(t, tenthToken.Cmp(amount))

		res, err := h.runner.AllowanceTransferWithPermit(ctx, amount)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Nonce.Int64())
		assert.Len(t, res.Signature, 65)
		assert.Equal(t, types.ReceiptStatusSuccessful, res.Receipt.Status)

		stored := h.sim.allowance(owner, h.sim.token, h.sim.app)
		assert.Equal(t, uint64(1), stored.nonce)
		assert.Equal(t, 0, stored.amount.Cmp(permit.MaxAllowanceAmount))
		assert.Equal(t, permit.EndTime(h.sim.now, 30*24*time.Hour), stored.expiration)
		assert.Zero(t, tenthToken.Cmp(h.sim.balance(h.sim.app)))
	})

	t.Run("later draws need no signature", func(t *testing.T) {
		res, err := h.runner.AllowanceTransferWithoutPermit(ctx, tenthToken)
		require.NoError(t, err)
		assert.Nil(t, res.Signature)
		assert.Equal(t, 0, h.sim.balance(h.sim.app).Cmp(new(big.Int).Mul(tenthToken, big.NewInt(2))))
	})

	t.Run("a second permit uses the advanced nonce", func(t *testing.T) {
		res, err := h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Nonce.Int64())
		assert.Equal(t, uint64(2), h.sim.allowance(owner, h.sim.token, h.sim.app).nonce)
	})

	t.Run("confirmed receipts are recorded", func(t *testing.T) {
		var flows []string
		for _, r := range h.receipts.saved {
			assert.Equal(t, "sepolia", r.chain)
			flows = append(flows, r.flow)
		}
		assert.Equal(t, []string{
			FlowApprove,
			FlowAllowanceTransferWithPermit,
			FlowAllowanceTransferWithoutPermit,
			FlowAllowanceTransferWithPermit,
		}, flows)
	})
}

func TestAllowanceTransferWithPermit_StaleNonce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.runner.ApproveRegistry(ctx)
	require.NoError(t, err)

	// Another transaction consumes the nonce between the read and the submit.
	h.sim.beforeExec = func(method string) {
		if method == "allowanceTransferWithPermit" {
			h.sim.allowance(h.signer.Address(), h.sim.token, h.sim.app).nonce++
		}
	}

	res, err := h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, tx.ErrReverted)
	assert.Equal(t, "InvalidNonce", h.sim.lastRevert())
	require.NotNil(t, res)
	assert.Equal(t, types.ReceiptStatusFailed, res.Receipt.Status)
}

func TestAllowanceTransferWithoutPermit_NoAllowance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.runner.ApproveRegistry(ctx)
	require.NoError(t, err)

	_, err = h.runner.AllowanceTransferWithoutPermit(ctx, tenthToken)
	assert.ErrorIs(t, err, tx.ErrReverted)
	assert.Equal(t, "AllowanceExpired", h.sim.lastRevert())
}

func TestAllowanceTransferWithoutPermit_Expired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bootstrap(t)

	h.sim.now = h.sim.now.Add(31 * 24 * time.Hour)
	_, err := h.runner.AllowanceTransferWithoutPermit(ctx, tenthToken)
	assert.ErrorIs(t, err, tx.ErrReverted)
	assert.Equal(t, "AllowanceExpired", h.sim.lastRevert())
}

func TestChainIDMismatch(t *testing.T) {
	ctx := context.Background()

	t.Run("allowance permit for another chain is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		h.sim.nodeChainID = big.NewInt(1)
		_, err = h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "InvalidSigner", h.sim.lastRevert())
	})

	t.Run("transfer permit for another chain is rejected and the nonce released", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		h.sim.nodeChainID = big.NewInt(1)
		res, err := h.runner.SignatureTransfer(ctx, tenthToken)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "InvalidSigner", h.sim.lastRevert())

		key := store.NonceKey{ChainID: 1, Owner: h.signer.Address(), Nonce: res.Nonce}
		assert.NoError(t, h.ledger.Reserve(ctx, key))
	})

	t.Run("chain id is read before every signature", func(t *testing.T) {
		h := newHarness(t)
		h.bootstrap(t)
		before := h.sim.chainIDCalls

		_, err := h.runner.SignatureTransfer(ctx, tenthToken)
		require.NoError(t, err)
		_, err = h.runner.SignatureTransfer(ctx, tenthToken)
		require.NoError(t, err)
		assert.Equal(t, before+2, h.sim.chainIDCalls)
	})
}

func TestSignatureTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("moves exactly the signed amount", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		res, err := h.runner.SignatureTransfer(ctx, tenthToken)
		require.NoError(t, err)
		assert.Zero(t, tenthToken.Cmp(h.sim.balance(h.sim.app)))
		assert.True(t, res.Nonce.Cmp(permit.NonceSpace) < 0)
		assert.Equal(t, FlowSignatureTransfer, h.receipts.saved[len(h.receipts.saved)-1].flow)

		key := store.NonceKey{ChainID: 11155111, Owner: h.signer.Address(), Nonce: res.Nonce}
		assert.ErrorIs(t, h.ledger.Reserve(ctx, key), store.ErrNonceAlreadyUsed)
	})

	t.Run("reusing a nonce is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		p, sig := h.signedTransfer(t, tenthToken, nil)

		pending, err := h.app.SignatureTransfer(ctx, p, sig)
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		require.NoError(t, err)

		pending, err = h.app.SignatureTransfer(ctx, p, sig)
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "InvalidNonce", h.sim.lastRevert())
		assert.Zero(t, tenthToken.Cmp(h.sim.balance(h.sim.app)))
	})

	t.Run("amount different from the signed amount is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		p, sig := h.signedTransfer(t, tenthToken, nil)
		p.Permitted.Amount = new(big.Int).Add(tenthToken, big.NewInt(1))

		pending, err := h.app.SignatureTransfer(ctx, p, sig)
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "InvalidSigner", h.sim.lastRevert())
	})

	t.Run("expired deadline is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		p, sig := h.signedTransfer(t, tenthToken, nil)
		h.sim.now = h.sim.now.Add(31 * time.Minute)

		pending, err := h.app.SignatureTransfer(ctx, p, sig)
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "SignatureExpired", h.sim.lastRevert())
	})

	t.Run("gives up when every draw is taken", func(t *testing.T) {
		h := newHarness(t, func(d *Deps) { d.Rand = repeatReader(0x11) })
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		first, err := h.runner.SignatureTransfer(ctx, tenthToken)
		require.NoError(t, err)

		sent := h.sim.sent
		_, err = h.runner.SignatureTransfer(ctx, tenthToken)
		assert.ErrorIs(t, err, ErrNoFreeNonce)
		assert.Equal(t, sent, h.sim.sent)

		// The on-chain bitmap alone blocks the nonce even with a fresh ledger.
		used, err := contracts.NewRegistry(h.sim.registry, h.sim).IsNonceUsed(ctx, h.signer.Address(), first.Nonce)
		require.NoError(t, err)
		assert.True(t, used)
	})

	t.Run("ledger conflicts are redrawn", func(t *testing.T) {
		h := newHarness(t, func(d *Deps) {
			d.Rand = io.MultiReader(bytes.NewReader(bytes.Repeat([]byte{0x11}, 8)), repeatReader(0x22))
		})
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		taken, err := permit.RandomNonce(repeatReader(0x11))
		require.NoError(t, err)
		want, err := permit.RandomNonce(repeatReader(0x22))
		require.NoError(t, err)
		require.NoError(t, h.ledger.Reserve(ctx, store.NonceKey{ChainID: 11155111, Owner: h.signer.Address(), Nonce: taken}))

		res, err := h.runner.SignatureTransfer(ctx, tenthToken)
		require.NoError(t, err)
		assert.Equal(t, 0, want.Cmp(res.Nonce))
	})
}

func TestSignatureTransferWithWitness(t *testing.T) {
	ctx := context.Background()

	t.Run("binds the witness user", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		res, err := h.runner.Run(ctx, FlowSignatureTransferWithWitness, tenthToken)
		require.NoError(t, err)
		assert.Equal(t, FlowSignatureTransferWithWitness, res.Flow)
		assert.Zero(t, tenthToken.Cmp(h.sim.balance(h.sim.app)))
	})

	t.Run("submitting without the witness is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		p, sig := h.signedTransfer(t, tenthToken, permit.UserWitness(witnessUser))
		p.Witness = nil

		pending, err := h.app.SignatureTransfer(ctx, p, sig)
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "InvalidSigner", h.sim.lastRevert())
	})

	t.Run("a different witness value is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.ApproveRegistry(ctx)
		require.NoError(t, err)

		p, sig := h.signedTransfer(t, tenthToken, permit.UserWitness(witnessUser))
		other := common.HexToAddress("0x000000000000000000000000000000000000beef")

		pending, err := h.app.SignatureTransferWithWitness(ctx, p, other, sig)
		require.NoError(t, err)
		_, err = pending.Wait(ctx)
		assert.ErrorIs(t, err, tx.ErrReverted)
		assert.Equal(t, "InvalidSigner", h.sim.lastRevert())
	})
}

type rejectingSigner struct {
	address common.Address
	err     error
}

func (r rejectingSigner) Address() common.Address { return r.address }
func (r rejectingSigner) SignTypedData(apitypes.TypedData) ([]byte, error) {
	return nil, r.err
}

// impostorSigner claims one address and signs with another key.
type impostorSigner struct {
	claimed common.Address
	inner   *wallet.PrivateKeySigner
}

func (i impostorSigner) Address() common.Address { return i.claimed }
func (i impostorSigner) SignTypedData(td apitypes.TypedData) ([]byte, error) {
	return i.inner.SignTypedData(td)
}

func TestSigningFailures(t *testing.T) {
	ctx := context.Background()
	errRejected := errors.New("user rejected request")

	t.Run("signer errors reach the caller", func(t *testing.T) {
		h := newHarness(t, func(d *Deps) {
			d.Signer = rejectingSigner{address: d.Signer.Address(), err: errRejected}
		})

		_, err := h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
		assert.ErrorIs(t, err, errRejected)

		_, err = h.runner.SignatureTransfer(ctx, tenthToken)
		assert.ErrorIs(t, err, errRejected)
		assert.Equal(t, 0, h.sim.sent)
	})

	t.Run("locked wallet", func(t *testing.T) {
		h := newHarness(t)
		h.signer.Lock()
		_, err := h.runner.SignatureTransfer(ctx, tenthToken)
		assert.ErrorIs(t, err, wallet.ErrAccountLocked)
	})

	t.Run("signature from another key", func(t *testing.T) {
		h := newHarness(t, func(d *Deps) {
			other, err := wallet.NewPrivateKeySigner("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
			require.NoError(t, err)
			d.Signer = impostorSigner{claimed: d.Signer.Address(), inner: other}
		})

		_, err := h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
		assert.ErrorIs(t, err, ErrSignerMismatch)
		assert.Equal(t, 0, h.sim.sent)
	})
}

func TestNodeErrorsHideProjectKey(t *testing.T) {
	const key = "SECRETPROJECTKEY"
	ctx := context.Background()

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Console: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	// Nothing listens on port 1; the client's errors embed the endpoint URL.
	node, err := ethclient.Dial("http://127.0.0.1:1/v3/" + key)
	require.NoError(t, err)
	t.Cleanup(node.Close)

	h := newHarness(t, func(d *Deps) {
		d.Chain = node
		d.Logger = logger.Logger
	})

	_, err = h.runner.SignatureTransfer(ctx, tenthToken)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), key)

	_, err = h.runner.AllowanceTransferWithPermit(ctx, tenthToken)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), key)

	assert.Contains(t, buf.String(), "failed to read chain id")
	assert.NotContains(t, buf.String(), key)
	assert.Equal(t, 0, h.sim.sent)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for _, name := range Flows {
		res, err := h.runner.Run(ctx, name, tenthToken)
		require.NoError(t, err, name)
		assert.Equal(t, name, res.Flow)
	}

	_, err := h.runner.Run(ctx, "flashLoan", tenthToken)
	assert.ErrorIs(t, err, ErrUnknownFlow)

	_, err = h.runner.Run(ctx, FlowSignatureTransfer, nil)
	assert.Error(t, err)
	_, err = h.runner.Run(ctx, FlowAllowanceTransferWithoutPermit, big.NewInt(0))
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bootstrap(t)

	st, err := h.runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "LINK", st.Symbol)
	assert.Equal(t, uint8(18), st.Decimals)
	assert.Equal(t, st.Decimals, h.runner.Decimals(ctx))
	assert.Equal(t, int64(11155111), st.ChainID.Int64())
	assert.Equal(t, 0, st.TokenAllowance.Cmp(permit.MaxApproval))
	assert.Equal(t, uint64(1), st.Registry.Nonce)
	assert.Equal(t, "9.900000", h.runner.FormatAmount(ctx, st.Balance))
	assert.True(t, st.DomainMatches)

	t.Run("registry bound to another chain", func(t *testing.T) {
		h.sim.chainID = big.NewInt(1)
		st, err := h.runner.Status(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, common.Hash{}, st.DomainSeparator)
		assert.False(t, st.DomainMatches)
	})
}

// repeatReader yields the same byte forever, so every nonce draw is equal.
type repeatReader byte

func (r repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}
