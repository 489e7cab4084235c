package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is the interface for signing transactions and EIP-712 payloads.
// Different implementations support different key management strategies.
type Signer interface {
	// Address returns the Ethereum address of the signer
	Address() common.Address

	// SignTransaction signs a transaction with the given chain ID
	SignTransaction(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	// SignTypedData signs EIP-712 typed data and returns r || s || v with v in {27, 28}
	SignTypedData(typedData apitypes.TypedData) ([]byte, error)
}

// signTypedData hashes typedData per EIP-712 and signs the digest with key.
func signTypedData(key *ecdsa.PrivateKey, typedData apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}

	// Transform V from crypto.Sign's 0/1 to 27/28; ecrecover expects V in {27,28}.
	sig[64] += 27
	return sig, nil
}
