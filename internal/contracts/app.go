package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/tx"
)

// Argument structs for the PermitSingle tuple. Field names follow the ABI
// component names.
type permitDetailsArg struct {
	Token      common.Address
	Amount     *big.Int
	Expiration *big.Int
	Nonce      *big.Int
}

type permitSingleArg struct {
	Details     permitDetailsArg
	Spender     common.Address
	SigDeadline *big.Int
}

// App is the Permit2App contract that pulls tokens through the registry.
type App struct {
	Address common.Address
	abi     abi.ABI
	sender  Transactor
}

// NewApp binds the app at addr using parsed, normally AppABI or the result
// of LoadArtifact.
func NewApp(addr common.Address, parsed abi.ABI, sender Transactor) *App {
	return &App{Address: addr, abi: parsed, sender: sender}
}

// AllowanceTransferWithPermit submits the signed PermitSingle and pulls amount
// in the same transaction.
func (a *App) AllowanceTransferWithPermit(ctx context.Context, p permit.AllowancePermit, sig []byte, amount *big.Int) (*tx.PendingTx, error) {
	if p.Details.Amount == nil {
		return nil, fmt.Errorf("allowanceTransferWithPermit: permit amount missing")
	}
	arg := permitSingleArg{
		Details: permitDetailsArg{
			Token:      p.Details.Token,
			Amount:     p.Details.Amount,
			Expiration: big.NewInt(p.Details.Expiration),
			Nonce:      new(big.Int).SetUint64(p.Details.Nonce),
		},
		Spender:     p.Spender,
		SigDeadline: big.NewInt(p.SigDeadline),
	}
	return send(ctx, a.sender, a.abi, a.Address, "allowanceTransferWithPermit", arg, sig, amount)
}

// AllowanceTransferWithoutPermit pulls amount against an allowance the
// registry already holds.
func (a *App) AllowanceTransferWithoutPermit(ctx context.Context, token common.Address, amount *big.Int) (*tx.PendingTx, error) {
	return send(ctx, a.sender, a.abi, a.Address, "allowanceTransferWithoutPermit", token, amount)
}

// SignatureTransfer redeems a one-shot PermitTransferFrom.
func (a *App) SignatureTransfer(ctx context.Context, p permit.TransferPermit, sig []byte) (*tx.PendingTx, error) {
	if p.Witness != nil {
		return nil, fmt.Errorf("signatureTransfer: permit carries a witness")
	}
	return send(ctx, a.sender, a.abi, a.Address, "signatureTransfer",
		p.Permitted.Token, p.Permitted.Amount, p.Nonce, big.NewInt(p.Deadline), sig)
}

// SignatureTransferWithWitness redeems a PermitWitnessTransferFrom whose
// witness is Witness(address user).
func (a *App) SignatureTransferWithWitness(ctx context.Context, p permit.TransferPermit, user common.Address, sig []byte) (*tx.PendingTx, error) {
	if p.Witness == nil {
		return nil, fmt.Errorf("signatureTransferWithWitness: permit has no witness")
	}
	return send(ctx, a.sender, a.abi, a.Address, "signatureTransferWithWitness",
		p.Permitted.Token, p.Permitted.Amount, p.Nonce, big.NewInt(p.Deadline), user, sig)
}
