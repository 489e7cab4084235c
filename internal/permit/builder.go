package permit

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSpace bounds random signature-transfer nonces to [0, 10^15).
var NonceSpace = big.NewInt(1_000_000_000_000_000)

// Policy holds the time windows applied to new permits.
type Policy struct {
	// AllowanceWindow is how long an allowance stays valid after signing.
	AllowanceWindow time.Duration
	// SignatureWindow is how long a signature can be submitted after signing.
	SignatureWindow time.Duration
}

// DefaultPolicy returns a 30 day allowance and a 30 minute signature deadline.
func DefaultPolicy() Policy {
	return Policy{
		AllowanceWindow: 30 * 24 * time.Hour,
		SignatureWindow: 30 * time.Minute,
	}
}

// Builder constructs unsigned permits for one token and one spender.
type Builder struct {
	Token   common.Address
	Spender common.Address
	Policy  Policy

	Now  func() time.Time
	Rand io.Reader
}

// NewBuilder creates a builder using the wall clock and crypto/rand.
func NewBuilder(token, spender common.Address, policy Policy) *Builder {
	return &Builder{
		Token:   token,
		Spender: spender,
		Policy:  policy,
		Now:     time.Now,
		Rand:    rand.Reader,
	}
}

// Allowance builds a max-amount allowance permit using the registry nonce.
func (b *Builder) Allowance(nonce uint64) AllowancePermit {
	now := b.Now()
	return AllowancePermit{
		Details: PermitDetails{
			Token:      b.Token,
			Amount:     new(big.Int).Set(MaxAllowanceAmount),
			Expiration: EndTime(now, b.Policy.AllowanceWindow),
			Nonce:      nonce,
		},
		Spender:     b.Spender,
		SigDeadline: EndTime(now, b.Policy.SignatureWindow),
	}
}

// Transfer builds a one-shot permit for exactly amount with a random nonce.
func (b *Builder) Transfer(amount *big.Int) (TransferPermit, error) {
	nonce, err := RandomNonce(b.Rand)
	if err != nil {
		return TransferPermit{}, err
	}
	return TransferPermit{
		Permitted: TokenPermissions{
			Token:  b.Token,
			Amount: new(big.Int).Set(amount),
		},
		Spender:  b.Spender,
		Nonce:    nonce,
		Deadline: EndTime(b.Now(), b.Policy.SignatureWindow),
	}, nil
}

// TransferWithWitness is Transfer with w bound into the permit.
func (b *Builder) TransferWithWitness(amount *big.Int, w *Witness) (TransferPermit, error) {
	if err := w.Validate(); err != nil {
		return TransferPermit{}, err
	}
	p, err := b.Transfer(amount)
	if err != nil {
		return TransferPermit{}, err
	}
	p.Witness = w
	return p, nil
}

// RandomNonce draws a uniform nonce from NonceSpace by rejection sampling
// 64-bit words read from r.
func RandomNonce(r io.Reader) (*big.Int, error) {
	space := NonceSpace.Uint64()
	limit := math.MaxUint64 - math.MaxUint64%space

	var buf [8]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("draw nonce: %w", err)
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return new(big.Int).SetUint64(v % space), nil
		}
	}
}
