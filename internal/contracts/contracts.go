// Package contracts binds the ERC-20 token, the Permit2 registry and the
// Permit2App contract. Reads go through eth_call; writes go through a
// Transactor so the caller decides how transactions are signed and sent.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/permitflow/internal/tx"
)

// ErrNoCode is returned when a view call comes back empty, which is what a
// node answers for an address without contract code.
var ErrNoCode = errors.New("no contract code at address")

// Caller executes read-only calls. *chain.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Transactor sends state-changing calls. *tx.Sender implements it.
type Transactor interface {
	From() common.Address
	Send(ctx context.Context, to common.Address, data []byte) (*tx.PendingTx, error)
}

func call(ctx context.Context, caller Caller, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), ErrNoCode)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func send(ctx context.Context, sender Transactor, parsed abi.ABI, to common.Address, method string, args ...interface{}) (*tx.PendingTx, error) {
	if sender == nil {
		return nil, fmt.Errorf("%s: no transactor configured", method)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	pending, err := sender.Send(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return pending, nil
}

func bigResult(method string, v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, v)
	}
	return b, nil
}
