package permit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainName is the EIP-712 domain name of the Permit2 contract. Permit2 uses
// no version field.
const DomainName = "Permit2"

// Field order must match the Permit2 contract's type strings.
var (
	domainType = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	permitDetailsType = []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint160"},
		{Name: "expiration", Type: "uint48"},
		{Name: "nonce", Type: "uint48"},
	}

	permitSingleType = []apitypes.Type{
		{Name: "details", Type: "PermitDetails"},
		{Name: "spender", Type: "address"},
		{Name: "sigDeadline", Type: "uint256"},
	}

	tokenPermissionsType = []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	}

	permitTransferFromType = []apitypes.Type{
		{Name: "permitted", Type: "TokenPermissions"},
		{Name: "spender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	}
)

// Domain returns the Permit2 EIP-712 domain for a registry on chainID.
func Domain(registry common.Address, chainID *big.Int) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: registry.Hex(),
	}
}

// DomainSeparator hashes the Permit2 domain for registry on chainID. It equals
// the registry's DOMAIN_SEPARATOR() when both agree on the chain.
func DomainSeparator(registry common.Address, chainID *big.Int) (common.Hash, error) {
	td := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": domainType},
		Domain: Domain(registry, chainID),
	}
	h, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	return common.BytesToHash(h), nil
}

// TypedData returns the PermitSingle payload signed for AllowanceTransfer.permit.
func (p AllowancePermit) TypedData(registry common.Address, chainID *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainType,
			"PermitSingle":  permitSingleType,
			"PermitDetails": permitDetailsType,
		},
		PrimaryType: "PermitSingle",
		Domain:      Domain(registry, chainID),
		Message: apitypes.TypedDataMessage{
			"details": map[string]interface{}{
				"token":      p.Details.Token.Hex(),
				"amount":     bigOrZero(p.Details.Amount),
				"expiration": big.NewInt(p.Details.Expiration),
				"nonce":      new(big.Int).SetUint64(p.Details.Nonce),
			},
			"spender":     p.Spender.Hex(),
			"sigDeadline": big.NewInt(p.SigDeadline),
		},
	}
}

// TypedData returns the PermitTransferFrom payload, or PermitWitnessTransferFrom
// when the permit carries a witness.
func (p TransferPermit) TypedData(registry common.Address, chainID *big.Int) (apitypes.TypedData, error) {
	message := apitypes.TypedDataMessage{
		"permitted": map[string]interface{}{
			"token":  p.Permitted.Token.Hex(),
			"amount": bigOrZero(p.Permitted.Amount),
		},
		"spender":  p.Spender.Hex(),
		"nonce":    bigOrZero(p.Nonce),
		"deadline": big.NewInt(p.Deadline),
	}

	if p.Witness == nil {
		return apitypes.TypedData{
			Types: apitypes.Types{
				"EIP712Domain":       domainType,
				"PermitTransferFrom": permitTransferFromType,
				"TokenPermissions":   tokenPermissionsType,
			},
			PrimaryType: "PermitTransferFrom",
			Domain:      Domain(registry, chainID),
			Message:     message,
		}, nil
	}

	if err := p.Witness.Validate(); err != nil {
		return apitypes.TypedData{}, err
	}
	switch p.Witness.TypeName {
	case "EIP712Domain", "TokenPermissions", "PermitWitnessTransferFrom":
		return apitypes.TypedData{}, fmt.Errorf("%w: type name %q is reserved", ErrWitnessMismatch, p.Witness.TypeName)
	}

	primary := make([]apitypes.Type, 0, len(permitTransferFromType)+1)
	primary = append(primary, permitTransferFromType...)
	primary = append(primary, apitypes.Type{Name: "witness", Type: p.Witness.TypeName})
	message["witness"] = p.Witness.Value

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":              domainType,
			"PermitWitnessTransferFrom": primary,
			"TokenPermissions":          tokenPermissionsType,
			p.Witness.TypeName:          p.Witness.Fields,
		},
		PrimaryType: "PermitWitnessTransferFrom",
		Domain:      Domain(registry, chainID),
		Message:     message,
	}, nil
}

// Hash returns the EIP-712 digest of td.
func Hash(td apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return digest, nil
}

// Recover returns the address that produced sig over td. sig uses V in {27, 28}.
func Recover(td apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	digest, err := Hash(td)
	if err != nil {
		return common.Address{}, err
	}

	rsv := make([]byte, len(sig))
	copy(rsv, sig)
	if rsv[64] >= 27 {
		rsv[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
