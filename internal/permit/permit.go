package permit

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DefaultRegistryAddress is the canonical Permit2 deployment, identical on every chain.
var DefaultRegistryAddress = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")

var (
	// MaxAllowanceAmount is type(uint160).max, the largest allowance Permit2 can hold.
	MaxAllowanceAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

	// MaxApproval is type(uint256).max, used for the one-time token approval.
	MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

var ErrWitnessMismatch = errors.New("witness value does not match its type")

// PermitDetails is the allowance part of a PermitSingle.
type PermitDetails struct {
	Token      common.Address
	Amount     *big.Int
	Expiration int64
	Nonce      uint64
}

// AllowancePermit grants Spender a capped, expiring allowance over one token.
// Nonce must be the value currently stored by the registry for
// (owner, token, spender).
type AllowancePermit struct {
	Details     PermitDetails
	Spender     common.Address
	SigDeadline int64
}

// TokenPermissions names the token and the exact amount a signature transfer moves.
type TokenPermissions struct {
	Token  common.Address
	Amount *big.Int
}

// TransferPermit authorizes a single transfer of exactly Permitted.Amount.
// Nonce is chosen by the caller and can be consumed only once.
type TransferPermit struct {
	Permitted TokenPermissions
	Spender   common.Address
	Nonce     *big.Int
	Deadline  int64

	// Witness, when set, is bound into the same signature.
	Witness *Witness
}

// Witness is application data signed together with a TransferPermit.
// TypeName and Fields must match the struct the receiving contract hashes.
type Witness struct {
	TypeName string
	Fields   []apitypes.Type
	Value    map[string]interface{}
}

// UserWitness is the witness shape Permit2App expects: Witness(address user).
func UserWitness(user common.Address) *Witness {
	return &Witness{
		TypeName: "Witness",
		Fields:   []apitypes.Type{{Name: "user", Type: "address"}},
		Value:    map[string]interface{}{"user": user.Hex()},
	}
}

// Validate checks that the value carries exactly the fields the descriptor names.
func (w *Witness) Validate() error {
	if w == nil {
		return nil
	}
	if w.TypeName == "" {
		return fmt.Errorf("%w: empty type name", ErrWitnessMismatch)
	}
	if len(w.Fields) == 0 {
		return fmt.Errorf("%w: %s has no fields", ErrWitnessMismatch, w.TypeName)
	}

	declared := make(map[string]struct{}, len(w.Fields))
	for _, f := range w.Fields {
		declared[f.Name] = struct{}{}
		if _, ok := w.Value[f.Name]; !ok {
			return fmt.Errorf("%w: missing field %q", ErrWitnessMismatch, f.Name)
		}
	}

	var extra []string
	for k := range w.Value {
		if _, ok := declared[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("%w: unexpected fields %s", ErrWitnessMismatch, strings.Join(extra, ", "))
	}
	return nil
}
