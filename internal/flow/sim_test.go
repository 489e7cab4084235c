package flow

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/permitflow/internal/contracts"
	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/tx"
)

// simChain is an in-memory chain holding one ERC-20 token, a Permit2
// registry and a Permit2App. It executes app calls with the registry's
// checks, including EIP-712 signature recovery against its own chain ID, and
// reports failed checks as reverted receipts.
type simChain struct {
	t *testing.T

	chainID     *big.Int // chain the registry verifies signatures for
	nodeChainID *big.Int // chain ID the node reports
	now         time.Time

	owner, token, registry, app common.Address

	decimals  uint8
	balances  map[common.Address]*big.Int
	approvals map[[2]common.Address]*big.Int
	permits   map[[3]common.Address]*simAllowance
	bitmaps   map[string]*big.Int

	receipts     map[common.Hash]*types.Receipt
	reverts      []string
	sent         int
	chainIDCalls int

	// beforeExec runs before each transaction executes.
	beforeExec func(method string)
}

type simAllowance struct {
	amount     *big.Int
	expiration int64
	nonce      uint64
}

// simPermitSingle mirrors the PermitSingle tuple for decoding calldata.
type simPermitSingle struct {
	Details struct {
		Token      common.Address
		Amount     *big.Int
		Expiration *big.Int
		Nonce      *big.Int
	}
	Spender     common.Address
	SigDeadline *big.Int
}

func newSimChain(t *testing.T, owner common.Address) *simChain {
	return &simChain{
		t:           t,
		chainID:     big.NewInt(11155111),
		nodeChainID: big.NewInt(11155111),
		now:         time.Unix(1_700_000_000, 0),
		owner:       owner,
		token:       common.HexToAddress("0x779877A7B0D9E8603169DdbD7836e478b4624789"),
		registry:    permit.DefaultRegistryAddress,
		app:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		decimals:    18,
		balances: map[common.Address]*big.Int{
			owner: new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
		},
		approvals: map[[2]common.Address]*big.Int{},
		permits:   map[[3]common.Address]*simAllowance{},
		bitmaps:   map[string]*big.Int{},
		receipts:  map[common.Hash]*types.Receipt{},
	}
}

func (s *simChain) clock() time.Time { return s.now }

func (s *simChain) ChainID(context.Context) (*big.Int, error) {
	s.chainIDCalls++
	return new(big.Int).Set(s.nodeChainID), nil
}

func (s *simChain) From() common.Address { return s.owner }

func (s *simChain) WaitMined(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := s.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (s *simChain) balance(a common.Address) *big.Int {
	if b, ok := s.balances[a]; ok {
		return b
	}
	return new(big.Int)
}

func (s *simChain) approval(owner, spender common.Address) *big.Int {
	if a, ok := s.approvals[[2]common.Address{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (s *simChain) allowance(owner, token, spender common.Address) *simAllowance {
	key := [3]common.Address{owner, token, spender}
	if a, ok := s.permits[key]; ok {
		return a
	}
	a := &simAllowance{amount: new(big.Int)}
	s.permits[key] = a
	return a
}

func bitmapKey(owner common.Address, wordPos *big.Int) string {
	return owner.Hex() + ":" + wordPos.String()
}

func (s *simChain) word(owner common.Address, wordPos *big.Int) *big.Int {
	if w, ok := s.bitmaps[bitmapKey(owner, wordPos)]; ok {
		return w
	}
	return new(big.Int)
}

func unpack(t *testing.T, parsed abi.ABI, data []byte) (*abi.Method, []interface{}) {
	t.Helper()
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return method, args
}

func (s *simChain) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var (
		method *abi.Method
		args   []interface{}
		out    []interface{}
	)
	switch *msg.To {
	case s.token:
		method, args = unpack(s.t, contracts.ERC20ABI, msg.Data)
		switch method.Name {
		case "allowance":
			out = []interface{}{s.approval(args[0].(common.Address), args[1].(common.Address))}
		case "balanceOf":
			out = []interface{}{s.balance(args[0].(common.Address))}
		case "decimals":
			out = []interface{}{s.decimals}
		case "symbol":
			out = []interface{}{"LINK"}
		}
	case s.registry:
		method, args = unpack(s.t, contracts.Permit2ABI, msg.Data)
		switch method.Name {
		case "allowance":
			a := s.allowance(args[0].(common.Address), args[1].(common.Address), args[2].(common.Address))
			out = []interface{}{a.amount, big.NewInt(a.expiration), new(big.Int).SetUint64(a.nonce)}
		case "nonceBitmap":
			out = []interface{}{s.word(args[0].(common.Address), args[1].(*big.Int))}
		case "DOMAIN_SEPARATOR":
			sep, err := permit.DomainSeparator(s.registry, s.chainID)
			require.NoError(s.t, err)
			out = []interface{}{[32]byte(sep)}
		}
	default:
		return nil, nil
	}
	if out == nil {
		return nil, fmt.Errorf("sim: unsupported call %s", method.Name)
	}
	return method.Outputs.Pack(out...)
}

func (s *simChain) Send(_ context.Context, to common.Address, data []byte) (*tx.PendingTx, error) {
	s.sent++
	hash := crypto.Keccak256Hash(data, big.NewInt(int64(s.sent)).Bytes())

	status := types.ReceiptStatusSuccessful
	if reason := s.exec(to, data); reason != "" {
		status = types.ReceiptStatusFailed
		s.reverts = append(s.reverts, reason)
	}
	s.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      status,
		GasUsed:     60_000,
		BlockNumber: big.NewInt(int64(5_000_000 + s.sent)),
	}
	return tx.NewPendingTx(hash, tx.SuggestedFees{GasLimit: 100_000}, s), nil
}

func (s *simChain) lastRevert() string {
	if len(s.reverts) == 0 {
		return ""
	}
	return s.reverts[len(s.reverts)-1]
}

// exec applies a transaction from the owner and returns a revert reason, or
// "" on success.
func (s *simChain) exec(to common.Address, data []byte) string {
	switch to {
	case s.token:
		method, args := unpack(s.t, contracts.ERC20ABI, data)
		if s.beforeExec != nil {
			s.beforeExec(method.Name)
		}
		if method.Name != "approve" {
			return "unsupported token call"
		}
		s.approvals[[2]common.Address{s.owner, args[0].(common.Address)}] = args[1].(*big.Int)
		return ""

	case s.app:
		method, args := unpack(s.t, contracts.AppABI, data)
		if s.beforeExec != nil {
			s.beforeExec(method.Name)
		}
		switch method.Name {
		case "allowanceTransferWithPermit":
			single := abi.ConvertType(args[0], new(simPermitSingle)).(*simPermitSingle)
			p := permit.AllowancePermit{
				Details: permit.PermitDetails{
					Token:      single.Details.Token,
					Amount:     single.Details.Amount,
					Expiration: single.Details.Expiration.Int64(),
					Nonce:      single.Details.Nonce.Uint64(),
				},
				Spender:     single.Spender,
				SigDeadline: single.SigDeadline.Int64(),
			}
			if reason := s.permit(p, args[1].([]byte)); reason != "" {
				return reason
			}
			return s.transferFrom(p.Details.Token, args[2].(*big.Int))

		case "allowanceTransferWithoutPermit":
			return s.transferFrom(args[0].(common.Address), args[1].(*big.Int))

		case "signatureTransfer", "signatureTransferWithWitness":
			p := permit.TransferPermit{
				Permitted: permit.TokenPermissions{Token: args[0].(common.Address), Amount: args[1].(*big.Int)},
				Spender:   s.app,
				Nonce:     args[2].(*big.Int),
				Deadline:  args[3].(*big.Int).Int64(),
			}
			sig := args[4]
			if method.Name == "signatureTransferWithWitness" {
				p.Witness = permit.UserWitness(args[4].(common.Address))
				sig = args[5]
			}
			return s.permitTransferFrom(p, args[1].(*big.Int), sig.([]byte))
		}
	}
	return "unsupported call"
}

// permit is AllowanceTransfer.permit(owner, permitSingle, signature).
func (s *simChain) permit(p permit.AllowancePermit, sig []byte) string {
	if s.now.Unix() > p.SigDeadline {
		return "SignatureExpired"
	}
	a := s.allowance(s.owner, p.Details.Token, p.Spender)
	if p.Details.Nonce != a.nonce {
		return "InvalidNonce"
	}
	if !s.signedByOwner(p.TypedData(s.registry, s.chainID), sig) {
		return "InvalidSigner"
	}
	a.amount = new(big.Int).Set(p.Details.Amount)
	a.expiration = p.Details.Expiration
	a.nonce++
	return ""
}

// transferFrom is AllowanceTransfer.transferFrom(owner, app, amount, token)
// called by the app.
func (s *simChain) transferFrom(token common.Address, amount *big.Int) string {
	a := s.allowance(s.owner, token, s.app)
	if s.now.Unix() > a.expiration {
		return "AllowanceExpired"
	}
	if a.amount.Cmp(permit.MaxAllowanceAmount) != 0 {
		if a.amount.Cmp(amount) < 0 {
			return "InsufficientAllowance"
		}
		a.amount = new(big.Int).Sub(a.amount, amount)
	}
	return s.pull(amount)
}

// permitTransferFrom is SignatureTransfer.permitTransferFrom, with or
// without a witness, called by the app.
func (s *simChain) permitTransferFrom(p permit.TransferPermit, requested *big.Int, sig []byte) string {
	if s.now.Unix() > p.Deadline {
		return "SignatureExpired"
	}
	if requested.Cmp(p.Permitted.Amount) > 0 {
		return "InvalidAmount"
	}

	wordPos := new(big.Int).Rsh(p.Nonce, 8)
	bit := int(new(big.Int).And(p.Nonce, big.NewInt(0xff)).Int64())
	word := s.word(s.owner, wordPos)
	if word.Bit(bit) == 1 {
		return "InvalidNonce"
	}

	td, err := p.TypedData(s.registry, s.chainID)
	if err != nil || !s.signedByOwner(td, sig) {
		return "InvalidSigner"
	}

	s.bitmaps[bitmapKey(s.owner, wordPos)] = new(big.Int).SetBit(word, bit, 1)
	return s.pull(requested)
}

func (s *simChain) signedByOwner(td apitypes.TypedData, sig []byte) bool {
	signer, err := permit.Recover(td, sig)
	return err == nil && signer == s.owner
}

// pull moves amount from the owner to the app through the registry's token
// approval.
func (s *simChain) pull(amount *big.Int) string {
	approved := s.approval(s.owner, s.registry)
	if approved.Cmp(amount) < 0 {
		return "ERC20: insufficient allowance"
	}
	if s.balance(s.owner).Cmp(amount) < 0 {
		return "ERC20: transfer amount exceeds balance"
	}
	if approved.Cmp(permit.MaxApproval) != 0 {
		s.approvals[[2]common.Address{s.owner, s.registry}] = new(big.Int).Sub(approved, amount)
	}
	s.balances[s.owner] = new(big.Int).Sub(s.balance(s.owner), amount)
	s.balances[s.app] = new(big.Int).Add(s.balance(s.app), amount)
	return ""
}
