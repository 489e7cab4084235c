package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yolodolo42/permitflow/internal/chain"
	"github.com/yolodolo42/permitflow/internal/contracts"
	"github.com/yolodolo42/permitflow/internal/permit"
)

// defaultDecimals is assumed when the token does not answer decimals().
const defaultDecimals = 18

// Status is a snapshot of the owner's position towards the registry and app.
type Status struct {
	Owner    common.Address
	ChainID  *big.Int
	Token    common.Address
	Symbol   string
	Decimals uint8

	Balance *big.Int
	// TokenAllowance is the ERC-20 approval granted to the registry.
	TokenAllowance *big.Int
	// Registry is the Permit2 allowance granted to the app.
	Registry contracts.AllowanceState

	// DomainSeparator is the registry's own; zero when it could not be read.
	DomainSeparator common.Hash
	// DomainMatches reports whether permits signed here verify on the registry.
	DomainMatches bool
}

// Status reads balances and allowances for the owner.
func (r *Runner) Status(ctx context.Context) (*Status, error) {
	owner := r.signer.Address()
	chainID, err := r.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}

	st := &Status{Owner: owner, ChainID: chainID, Token: r.tokenAddr}
	st.Symbol, err = r.token.Symbol(ctx)
	if err != nil {
		r.logger.Warn("token symbol unavailable", zap.Error(err))
		st.Symbol = "?"
	}
	st.Decimals = r.Decimals(ctx)

	if st.Balance, err = r.token.BalanceOf(ctx, owner); err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if st.TokenAllowance, err = r.token.Allowance(ctx, owner, r.registryAddr); err != nil {
		return nil, fmt.Errorf("read token allowance: %w", err)
	}
	if st.Registry, err = r.registry.Allowance(ctx, owner, r.tokenAddr, r.appAddr); err != nil {
		return nil, fmt.Errorf("read registry allowance: %w", err)
	}

	if st.DomainSeparator, err = r.registry.DomainSeparator(ctx); err != nil {
		r.logger.Warn("registry domain separator unavailable", zap.Error(err))
		return st, nil
	}
	local, err := permit.DomainSeparator(r.registryAddr, chainID)
	if err != nil {
		return nil, err
	}
	st.DomainMatches = local == st.DomainSeparator
	if !st.DomainMatches {
		r.logger.Warn("registry domain differs from local permit domain",
			zap.String("registry", st.DomainSeparator.Hex()), zap.String("local", local.Hex()))
	}
	return st, nil
}

// ParseAmount converts a human amount such as "0.1" into base units using
// the token's decimals.
func (r *Runner) ParseAmount(ctx context.Context, amount string) (*big.Int, error) {
	return chain.ParseUnits(amount, r.Decimals(ctx))
}

// FormatAmount renders base units with the token's decimals.
func (r *Runner) FormatAmount(ctx context.Context, amount *big.Int) string {
	return chain.FormatBalance(amount, r.Decimals(ctx))
}

// Decimals is the token's decimals, or 18 when the token does not say.
func (r *Runner) Decimals(ctx context.Context) uint8 {
	d, err := r.token.Decimals(ctx)
	if err != nil {
		r.logger.Warn("token decimals unavailable, assuming 18", zap.Error(err))
		return defaultDecimals
	}
	return d
}
