package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountLocked   = errors.New("account is locked")
	ErrInvalidKey      = errors.New("invalid private key")
	ErrInvalidAccount  = errors.New("invalid account address")
	ErrNoAccounts      = errors.New("keystore has no accounts")
)

// KeystoreDir is the keystore location below the data directory.
const KeystoreDir = "keystore"

// KeystoreManager owns the encrypted key files under <dataDir>/keystore.
type KeystoreManager struct {
	ks  *keystore.KeyStore
	dir string
}

// KeystoreOption tunes a KeystoreManager.
type KeystoreOption func(*keystoreOptions)

type keystoreOptions struct {
	scryptN, scryptP int
}

// WithLightScrypt encrypts new keys with cheap scrypt parameters. Only for
// throwaway keys, e.g. in tests.
func WithLightScrypt() KeystoreOption {
	return func(o *keystoreOptions) {
		o.scryptN, o.scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
}

// NewKeystoreManager opens the keystore below dataDir, creating it if needed.
func NewKeystoreManager(dataDir string, opts ...KeystoreOption) (*KeystoreManager, error) {
	o := keystoreOptions{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Join(dataDir, KeystoreDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	return &KeystoreManager{
		ks:  keystore.NewKeyStore(dir, o.scryptN, o.scryptP),
		dir: dir,
	}, nil
}

// Dir is the directory holding the key files.
func (km *KeystoreManager) Dir() string {
	return km.dir
}

// CreateAccount generates a key and stores it encrypted with password.
func (km *KeystoreManager) CreateAccount(password string) (accounts.Account, error) {
	return km.ks.NewAccount(password)
}

// ImportKey stores a hex private key, with or without 0x, encrypted with password.
func (km *KeystoreManager) ImportKey(privateKeyHex string, password string) (accounts.Account, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return km.ks.ImportECDSA(privateKey, password)
}

// ListAccounts returns the stored accounts.
func (km *KeystoreManager) ListAccounts() []accounts.Account {
	return km.ks.Accounts()
}

// Resolve picks the account to sign with: the given address, or the first
// stored account when address is empty.
func (km *KeystoreManager) Resolve(address string) (accounts.Account, error) {
	stored := km.ks.Accounts()
	if address == "" {
		if len(stored) == 0 {
			return accounts.Account{}, ErrNoAccounts
		}
		return stored[0], nil
	}

	if !common.IsHexAddress(address) {
		return accounts.Account{}, fmt.Errorf("%w: %q", ErrInvalidAccount, address)
	}
	want := common.HexToAddress(address)
	for _, acc := range stored {
		if acc.Address == want {
			return acc, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, want.Hex())
}

// Unlock resolves address and decrypts its key.
func (km *KeystoreManager) Unlock(address, password string) (*KeystoreSigner, error) {
	acc, err := km.Resolve(address)
	if err != nil {
		return nil, err
	}
	return km.GetSigner(acc.Address, password)
}

// GetSigner decrypts the key of address. The key stays in the returned
// signer only; the keystore itself is never left unlocked.
func (km *KeystoreManager) GetSigner(address common.Address, password string) (*KeystoreSigner, error) {
	if !km.ks.HasAddress(address) {
		return nil, ErrAccountNotFound
	}
	acc, err := km.ks.Find(accounts.Account{Address: address})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	}

	keyJSON, err := os.ReadFile(acc.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}
	if key.Address != address {
		return nil, fmt.Errorf("key file %s holds %s", acc.URL.Path, key.Address.Hex())
	}

	return &KeystoreSigner{account: acc, key: key.PrivateKey}, nil
}

// KeystoreSigner signs with a key decrypted from the keystore.
type KeystoreSigner struct {
	// mu keeps signing from racing with Lock.
	mu      sync.RWMutex
	account accounts.Account
	key     *ecdsa.PrivateKey // nil when locked
}

func (ks *KeystoreSigner) Address() common.Address {
	return ks.account.Address
}

func (ks *KeystoreSigner) SignTransaction(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), ks.key)
}

func (ks *KeystoreSigner) SignTypedData(typedData apitypes.TypedData) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}
	return signTypedData(ks.key, typedData)
}

// Lock zeroes the key. It is safe to call more than once; signing afterwards
// returns ErrAccountLocked.
func (ks *KeystoreSigner) Lock() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.key != nil {
		ks.key.D.SetInt64(0)
		ks.key = nil
	}
}
