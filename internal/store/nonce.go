package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultReservationTTL bounds how long an unconfirmed reservation blocks a nonce.
const DefaultReservationTTL = 30 * time.Minute

var ErrNonceAlreadyUsed = errors.New("nonce already used or reserved")

// NonceKey identifies a signature-transfer nonce. Permit2 scopes nonces per
// owner, and deployments on different chains are independent.
type NonceKey struct {
	ChainID uint64
	Owner   common.Address
	Nonce   *big.Int
}

func (k NonceKey) String() string {
	nonce := "0"
	if k.Nonce != nil {
		nonce = k.Nonce.String()
	}
	return fmt.Sprintf("%d:%s:%s", k.ChainID, strings.ToLower(k.Owner.Hex()), nonce)
}

// NonceLedger tracks signature-transfer nonces handed out by this client so a
// nonce is never signed twice, even across processes.
type NonceLedger interface {
	// Reserve claims the nonce. It returns ErrNonceAlreadyUsed if the nonce
	// is reserved or used.
	Reserve(ctx context.Context, key NonceKey) error

	// MarkUsed records that a transaction consuming the nonce was mined.
	MarkUsed(ctx context.Context, key NonceKey) error

	// Release frees a reservation whose signature was never submitted.
	Release(ctx context.Context, key NonceKey) error
}

// MemoryLedger is a process-local NonceLedger.
type MemoryLedger struct {
	mu    sync.Mutex
	state map[string]string
}

var _ NonceLedger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{state: make(map[string]string)}
}

func (m *MemoryLedger) Reserve(_ context.Context, key NonceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[key.String()]; ok {
		return ErrNonceAlreadyUsed
	}
	m.state[key.String()] = stateReserved
	return nil
}

func (m *MemoryLedger) MarkUsed(_ context.Context, key NonceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key.String()] = stateUsed
	return nil
}

func (m *MemoryLedger) Release(_ context.Context, key NonceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state[key.String()] == stateReserved {
		delete(m.state, key.String())
	}
	return nil
}

const (
	stateReserved = "reserved"
	stateUsed     = "used"
)
