package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AllowanceState is the registry's record for (owner, token, spender).
type AllowanceState struct {
	Amount     *big.Int
	Expiration int64
	Nonce      uint64
}

// Registry is the Permit2 contract.
type Registry struct {
	Address common.Address
	caller  Caller
}

// NewRegistry binds the Permit2 deployment at addr.
func NewRegistry(addr common.Address, caller Caller) *Registry {
	return &Registry{Address: addr, caller: caller}
}

// Allowance reads the stored allowance. Nonce is the value the next
// PermitSingle for this triple must carry.
func (r *Registry) Allowance(ctx context.Context, owner, token, spender common.Address) (AllowanceState, error) {
	out, err := call(ctx, r.caller, Permit2ABI, r.Address, "allowance", owner, token, spender)
	if err != nil {
		return AllowanceState{}, err
	}
	if len(out) != 3 {
		return AllowanceState{}, fmt.Errorf("allowance: expected 3 values, got %d", len(out))
	}

	amount, err := bigResult("allowance", out[0])
	if err != nil {
		return AllowanceState{}, err
	}
	expiration, err := bigResult("allowance", out[1])
	if err != nil {
		return AllowanceState{}, err
	}
	nonce, err := bigResult("allowance", out[2])
	if err != nil {
		return AllowanceState{}, err
	}
	// uint48 always fits.
	return AllowanceState{
		Amount:     amount,
		Expiration: expiration.Int64(),
		Nonce:      nonce.Uint64(),
	}, nil
}

// IsNonceUsed reports whether owner has consumed nonce for signature
// transfers. Nonces live in a bitmap: word nonce>>8, bit nonce&0xff.
func (r *Registry) IsNonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) (bool, error) {
	wordPos := new(big.Int).Rsh(nonce, 8)
	bitPos := uint(new(big.Int).And(nonce, big.NewInt(0xff)).Uint64())

	out, err := call(ctx, r.caller, Permit2ABI, r.Address, "nonceBitmap", owner, wordPos)
	if err != nil {
		return false, err
	}
	word, err := bigResult("nonceBitmap", out[0])
	if err != nil {
		return false, err
	}
	return word.Bit(int(bitPos)) == 1, nil
}

// DomainSeparator returns the EIP-712 domain hash the registry verifies against.
func (r *Registry) DomainSeparator(ctx context.Context) (common.Hash, error) {
	out, err := call(ctx, r.caller, Permit2ABI, r.Address, "DOMAIN_SEPARATOR")
	if err != nil {
		return common.Hash{}, err
	}
	sep, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("DOMAIN_SEPARATOR: unexpected type %T", out[0])
	}
	return common.Hash(sep), nil
}
