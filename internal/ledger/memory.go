package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemoryStore keeps every account in a map. Transactions run one at a time and
// write into an overlay that is merged only on success.
type MemoryStore struct {
	mu       sync.Mutex
	rent     Rent
	accounts map[solana.PublicKey]Account
}

func NewMemoryStore(rent Rent) *MemoryStore {
	return &MemoryStore{
		rent:     rent,
		accounts: make(map[solana.PublicKey]Account),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	overlay := &memoryOverlay{
		base:    s.accounts,
		pending: make(map[solana.PublicKey]Account),
	}
	if err := fn(newTx(overlay, s.rent)); err != nil {
		return err
	}

	for address, account := range overlay.pending {
		if !account.Exists() && account.Owner.Equals(solana.SystemProgramID) {
			delete(s.accounts, address)
			continue
		}
		s.accounts[address] = account
	}
	return nil
}

// Fund credits lamports to address outside of any transaction.
func (s *MemoryStore) Fund(address solana.PublicKey, lamports uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[address]
	if !ok {
		account = emptyAccount(address)
	}
	if account.Lamports+lamports < account.Lamports {
		return fmt.Errorf("fund %s: %w", address, ErrLamportsOverflow)
	}
	account.Lamports += lamports
	s.accounts[address] = account
	return nil
}

// Put replaces the record at account.Address.
func (s *MemoryStore) Put(account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.Address] = account.clone()
}

// Get returns a copy of the committed record at address.
func (s *MemoryStore) Get(address solana.PublicKey) Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[address]
	if !ok {
		return emptyAccount(address)
	}
	return account.clone()
}

func (s *MemoryStore) AccountsByOwner(ctx context.Context, owner solana.PublicKey, limit, offset int) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := make([]Account, 0)
	for _, account := range s.accounts {
		if account.IsOwnedBy(owner) {
			owned = append(owned, account)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].Address.String() < owned[j].Address.String()
	})

	if offset >= len(owned) {
		return []Account{}, nil
	}
	owned = owned[offset:]
	if limit > 0 && limit < len(owned) {
		owned = owned[:limit]
	}
	out := make([]Account, 0, len(owned))
	for _, account := range owned {
		out = append(out, account.clone())
	}
	return out, nil
}


type memoryOverlay struct {
	base    map[solana.PublicKey]Account
	pending map[solana.PublicKey]Account
}

func (o *memoryOverlay) load(_ context.Context, address solana.PublicKey) (Account, error) {
	if account, ok := o.pending[address]; ok {
		return account, nil
	}
	if account, ok := o.base[address]; ok {
		return account, nil
	}
	return emptyAccount(address), nil
}

func (o *memoryOverlay) save(_ context.Context, account Account) error {
	o.pending[account.Address] = account.clone()
	return nil
}
