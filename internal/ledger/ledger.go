package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountAlreadyInUse = errors.New("account already in use")
	ErrAccountNotFound     = errors.New("account not found")
	ErrNotRentExempt       = errors.New("account would not be rent exempt")
	ErrAccountDataTooSmall = errors.New("account data too small")
	ErrLamportsOverflow    = errors.New("lamports overflow")

	// ErrRollback is returned by a DryRun store after a successful callback.
	ErrRollback = errors.New("transaction rolled back on request")
)

// Account is one ledger record. An address that was never written reads as a
// system-owned account with zero lamports and no data.
type Account struct {
	Address  solana.PublicKey
	Lamports uint64
	Owner    solana.PublicKey
	Data     []byte
}

func (a Account) DataIsEmpty() bool {
	return len(a.Data) == 0
}

func (a Account) IsOwnedBy(owner solana.PublicKey) bool {
	return a.Owner.Equals(owner)
}

// Exists reports whether the record holds lamports or data.
func (a Account) Exists() bool {
	return a.Lamports > 0 || len(a.Data) > 0
}

func (a Account) clone() Account {
	out := a
	if a.Data != nil {
		out.Data = bytes.Clone(a.Data)
	}
	return out
}

func emptyAccount(address solana.PublicKey) Account {
	return Account{Address: address, Owner: solana.SystemProgramID}
}

// Tx is a unit of work against the ledger. Every effect is discarded unless
// the surrounding WithTx callback returns nil.
type Tx interface {
	Account(ctx context.Context, address solana.PublicKey) (Account, error)
	// CreateAccount debits lamports from funder and allocates space zeroed
	// bytes at address owned by owner.
	CreateAccount(ctx context.Context, funder, address solana.PublicKey, lamports, space uint64, owner solana.PublicKey) error
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error
	Assign(ctx context.Context, address, owner solana.PublicKey) error
	Resize(ctx context.Context, address solana.PublicKey, size uint64) error
	// WriteData overwrites the leading bytes of the record.
	WriteData(ctx context.Context, address solana.PublicKey, data []byte) error
	// Reclaim moves every lamport of address to beneficiary, drops its data
	// and hands it back to the system program. It returns the lamports moved.
	Reclaim(ctx context.Context, address, beneficiary solana.PublicKey) (uint64, error)
}

type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Scanner lists committed accounts owned by a program, ordered by base58
// address. A limit of zero or less means no limit.
type Scanner interface {
	AccountsByOwner(ctx context.Context, owner solana.PublicKey, limit, offset int) ([]Account, error)
}

// DryRun wraps store so that every transaction is discarded, even when the
// callback succeeds.
func DryRun(store Store) Store {
	return dryRunStore{inner: store}
}

type dryRunStore struct {
	inner Store
}

func (d dryRunStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return d.inner.WithTx(ctx, func(tx Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return ErrRollback
	})
}

// accountIO is the row access a concrete store gives to the shared Tx logic.
type accountIO interface {
	load(ctx context.Context, address solana.PublicKey) (Account, error)
	save(ctx context.Context, account Account) error
}

type tx struct {
	io   accountIO
	rent Rent
}

func newTx(io accountIO, rent Rent) *tx {
	return &tx{io: io, rent: rent}
}

func (t *tx) Account(ctx context.Context, address solana.PublicKey) (Account, error) {
	account, err := t.io.load(ctx, address)
	if err != nil {
		return Account{}, fmt.Errorf("load %s: %w", address, err)
	}
	return account.clone(), nil
}

func (t *tx) CreateAccount(ctx context.Context, funder, address solana.PublicKey, lamports, space uint64, owner solana.PublicKey) error {
	target, err := t.Account(ctx, address)
	if err != nil {
		return err
	}
	if target.Exists() {
		return fmt.Errorf("create %s: %w", address, ErrAccountAlreadyInUse)
	}
	if t.rent != nil {
		if minimum := t.rent.MinimumBalance(space); lamports < minimum {
			return fmt.Errorf("create %s with %d lamports, need %d: %w", address, lamports, minimum, ErrNotRentExempt)
		}
	}
	if err := t.debit(ctx, funder, lamports); err != nil {
		return fmt.Errorf("fund %s: %w", address, err)
	}

	target.Lamports = lamports
	target.Owner = owner
	target.Data = make([]byte, space)
	return t.io.save(ctx, target)
}

func (t *tx) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := t.debit(ctx, from, amount); err != nil {
		return fmt.Errorf("transfer %d from %s: %w", amount, from, err)
	}
	if err := t.credit(ctx, to, amount); err != nil {
		return fmt.Errorf("transfer %d to %s: %w", amount, to, err)
	}
	return nil
}

func (t *tx) Assign(ctx context.Context, address, owner solana.PublicKey) error {
	account, err := t.Account(ctx, address)
	if err != nil {
		return err
	}
	account.Owner = owner
	return t.io.save(ctx, account)
}

func (t *tx) Resize(ctx context.Context, address solana.PublicKey, size uint64) error {
	account, err := t.Account(ctx, address)
	if err != nil {
		return err
	}
	current := uint64(len(account.Data))
	switch {
	case size < current:
		account.Data = account.Data[:size]
	case size > current:
		account.Data = append(account.Data, make([]byte, size-current)...)
	}
	if size == 0 {
		account.Data = nil
	}
	return t.io.save(ctx, account)
}

func (t *tx) WriteData(ctx context.Context, address solana.PublicKey, data []byte) error {
	account, err := t.Account(ctx, address)
	if err != nil {
		return err
	}
	if len(data) > len(account.Data) {
		return fmt.Errorf("write %d bytes into %s (%d bytes): %w", len(data), address, len(account.Data), ErrAccountDataTooSmall)
	}
	copy(account.Data, data)
	return t.io.save(ctx, account)
}

// Reclaim closes address the way a program closes a record: drain the
// lamports, shrink the data to zero, then return it to the system program.
func (t *tx) Reclaim(ctx context.Context, address, beneficiary solana.PublicKey) (uint64, error) {
	account, err := t.Account(ctx, address)
	if err != nil {
		return 0, err
	}
	if !account.Exists() {
		return 0, fmt.Errorf("reclaim %s: %w", address, ErrAccountNotFound)
	}
	if err := t.Transfer(ctx, address, beneficiary, account.Lamports); err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", address, err)
	}
	if err := t.Resize(ctx, address, 0); err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", address, err)
	}
	if err := t.Assign(ctx, address, solana.SystemProgramID); err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", address, err)
	}
	return account.Lamports, nil
}

func (t *tx) debit(ctx context.Context, address solana.PublicKey, amount uint64) error {
	account, err := t.Account(ctx, address)
	if err != nil {
		return err
	}
	if account.Lamports < amount {
		return fmt.Errorf("%s holds %d lamports, need %d: %w", address, account.Lamports, amount, ErrInsufficientFunds)
	}
	account.Lamports -= amount
	return t.io.save(ctx, account)
}

func (t *tx) credit(ctx context.Context, address solana.PublicKey, amount uint64) error {
	account, err := t.Account(ctx, address)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(account.Lamports, amount, 0)
	if carry != 0 {
		return fmt.Errorf("credit %d to %s: %w", amount, address, ErrLamportsOverflow)
	}
	account.Lamports = sum
	return t.io.save(ctx, account)
}
