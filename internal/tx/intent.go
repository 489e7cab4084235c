package tx

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrDestinationNotAllowed = errors.New("destination not allowed by policy")
	ErrValueNotAllowed       = errors.New("native value not allowed by policy")
	ErrEmptyCalldata         = errors.New("contract call has no calldata")
	ErrFeeCapExceeded        = errors.New("max fee per gas above policy cap")
)

// DefaultGasHeadroomPercent is the configured gas headroom when tx.gas_headroom
// is not set.
const DefaultGasHeadroomPercent = 20

// Backend is the subset of the chain client needed to build, send and
// confirm transactions. *chain.Client implements it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Intent is one contract call to be sent from From.
type Intent struct {
	From  common.Address
	To    common.Address
	Value *big.Int // nil means zero
	Data  []byte

	// Optional overrides; nil means ask the node.
	Nonce          *uint64
	GasLimit       *uint64
	MaxFeePerGas   *big.Int
	MaxPriorityFee *big.Int
}

// Policy bounds what a Sender may broadcast.
type Policy struct {
	// AllowTo lists the only contracts that may be called. Empty allows any.
	AllowTo []common.Address
	// MaxValue is the largest native value per transaction. Nil allows none.
	MaxValue *big.Int
	// GasHeadroomPercent is added on top of the node's gas estimate. Zero
	// sends the estimate unpadded.
	GasHeadroomPercent uint64
	// MaxFeePerGas caps the fee; nil leaves it uncapped.
	MaxFeePerGas *big.Int
}

// SuggestedFees carries the gas figures a transaction was built with.
type SuggestedFees struct {
	GasLimit         uint64
	MaxFeePerGas     *big.Int
	MaxPriorityFee   *big.Int
	EstimatedCostWei *big.Int
}

func (i Intent) value() *big.Int {
	if i.Value == nil {
		return new(big.Int)
	}
	return i.Value
}

// Validate checks intent against policy before anything touches the node.
func Validate(intent Intent, policy Policy) error {
	if intent.To == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrDestinationNotAllowed)
	}
	if len(intent.Data) == 0 {
		return ErrEmptyCalldata
	}
	if len(policy.AllowTo) > 0 && !slices.Contains(policy.AllowTo, intent.To) {
		return fmt.Errorf("%w: %s", ErrDestinationNotAllowed, intent.To.Hex())
	}

	limit := policy.MaxValue
	if limit == nil {
		limit = new(big.Int)
	}
	if v := intent.value(); v.Sign() < 0 || v.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s wei", ErrValueNotAllowed, v)
	}
	return nil
}

// BuildUnsignedTx prepares an unsigned EIP-1559 transaction, filling the
// account nonce, fees and gas limit from the backend unless overridden.
// Gas estimation executes the call, so a transaction that would revert fails here.
func BuildUnsignedTx(ctx context.Context, backend Backend, chainID *big.Int, intent Intent, policy Policy) (*types.Transaction, SuggestedFees, error) {
	var nonce uint64
	if intent.Nonce != nil {
		nonce = *intent.Nonce
	} else {
		n, err := backend.PendingNonceAt(ctx, intent.From)
		if err != nil {
			return nil, SuggestedFees{}, fmt.Errorf("get account nonce: %w", err)
		}
		nonce = n
	}

	maxFee, tip, err := fees(ctx, backend, intent)
	if err != nil {
		return nil, SuggestedFees{}, err
	}
	if policy.MaxFeePerGas != nil && maxFee.Cmp(policy.MaxFeePerGas) > 0 {
		if tip.Cmp(policy.MaxFeePerGas) > 0 {
			return nil, SuggestedFees{}, fmt.Errorf("%w: tip %s > cap %s", ErrFeeCapExceeded, tip, policy.MaxFeePerGas)
		}
		maxFee = new(big.Int).Set(policy.MaxFeePerGas)
	}

	value := intent.value()
	var gasLimit uint64
	if intent.GasLimit != nil {
		gasLimit = *intent.GasLimit
	} else {
		estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      intent.From,
			To:        &intent.To,
			GasFeeCap: maxFee,
			GasTipCap: tip,
			Value:     value,
			Data:      intent.Data,
		})
		if err != nil {
			return nil, SuggestedFees{}, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = estimate + estimate*policy.GasHeadroomPercent/100
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &intent.To,
		Value:     value,
		Data:      intent.Data,
	})

	cost := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(gasLimit))
	cost.Add(cost, value)

	return tx, SuggestedFees{
		GasLimit:         gasLimit,
		MaxFeePerGas:     maxFee,
		MaxPriorityFee:   tip,
		EstimatedCostWei: cost,
	}, nil
}

// fees returns the max fee and tip. The suggested gas price already covers
// base fee plus tip; the tip is added once more so the transaction survives
// a base fee rise while pending.
func fees(ctx context.Context, backend Backend, intent Intent) (maxFee, tip *big.Int, err error) {
	maxFee, tip = intent.MaxFeePerGas, intent.MaxPriorityFee
	if tip == nil {
		if tip, err = backend.SuggestGasTipCap(ctx); err != nil {
			return nil, nil, fmt.Errorf("suggest tip: %w", err)
		}
	}
	if maxFee == nil {
		price, err := backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("suggest gas price: %w", err)
		}
		maxFee = new(big.Int).Add(price, tip)
	}
	if maxFee.Cmp(tip) < 0 {
		maxFee = new(big.Int).Set(tip)
	}
	return maxFee, tip, nil
}
