package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeBalance represents a native token balance
type NativeBalance struct {
	Chain    string   `json:"chain"`
	Symbol   string   `json:"symbol"`
	Balance  *big.Int `json:"balance"`
	Decimals uint8    `json:"decimals"` // Always 18 for native tokens
}

// GetNativeBalance returns the gas token balance for an address
func (c *Client) GetNativeBalance(ctx context.Context, address common.Address) (*NativeBalance, error) {
	balance, err := c.BalanceAt(ctx, address)
	if err != nil {
		return nil, err
	}

	return &NativeBalance{
		Chain:    c.config.Name,
		Symbol:   c.config.NativeCurrency,
		Balance:  balance,
		Decimals: 18,
	}, nil
}

// displayDecimals caps the fraction digits FormatBalance prints.
const displayDecimals = 6

// FormatBalance renders base units as a decimal with at most six fraction
// digits. Extra digits are truncated, never rounded up.
func FormatBalance(balance *big.Int, decimals uint8) string {
	if balance == nil {
		return "0"
	}

	neg := balance.Sign() < 0
	abs := new(big.Int).Abs(balance)
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))

	out := whole.String()
	if decimals > 0 {
		digits := frac.String()
		digits = strings.Repeat("0", int(decimals)-len(digits)) + digits
		if len(digits) > displayDecimals {
			digits = digits[:displayDecimals]
		}
		out += "." + digits
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseUnits converts a decimal string such as "0.1" into base units.
// Fractions finer than decimals are rejected rather than rounded.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}

	whole, frac, hasDot := strings.Cut(amount, ".")
	if whole == "" && (!hasDot || frac == "") {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}

	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid amount: %s", amount)
		}
	}

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return value, nil
}
