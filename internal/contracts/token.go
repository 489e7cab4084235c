package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/permitflow/internal/tx"
)

// Token is an ERC-20 contract.
type Token struct {
	Address common.Address
	caller  Caller
	sender  Transactor
}

// NewToken binds the token at addr. sender may be nil for read-only use.
func NewToken(addr common.Address, caller Caller, sender Transactor) *Token {
	return &Token{Address: addr, caller: caller, sender: sender}
}

// Approve lets spender move up to amount of the sender's tokens.
func (t *Token) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*tx.PendingTx, error) {
	return send(ctx, t.sender, ERC20ABI, t.Address, "approve", spender, amount)
}

// Allowance returns how much spender may still move on behalf of owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := call(ctx, t.caller, ERC20ABI, t.Address, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigResult("allowance", out[0])
}

// BalanceOf returns the token balance of owner in base units.
func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := call(ctx, t.caller, ERC20ABI, t.Address, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigResult("balanceOf", out[0])
}

// Decimals returns the token's decimal places.
func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	out, err := call(ctx, t.caller, ERC20ABI, t.Address, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	return d, nil
}

// Symbol returns the token's ticker.
func (t *Token) Symbol(ctx context.Context) (string, error) {
	out, err := call(ctx, t.caller, ERC20ABI, t.Address, "symbol")
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected type %T", out[0])
	}
	return s, nil
}
