package ledger

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

// openTestPostgres connects to PREDICT_TEST_POSTGRES_DSN. Rows written through
// track are deleted when the test ends.
func openTestPostgres(t *testing.T) (*PostgresStore, func(...solana.PublicKey)) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PREDICT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("PREDICT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}

	var touched []string
	t.Cleanup(func() {
		for _, pubkey := range touched {
			_, _ = store.db.ExecContext(ctx, `DELETE FROM accounts WHERE pubkey = ?`, pubkey)
		}
		_ = store.Close()
	})
	track := func(addresses ...solana.PublicKey) {
		for _, address := range addresses {
			touched = append(touched, address.String())
		}
	}
	return store, track
}

func putPostgres(t *testing.T, store *PostgresStore, account Account) {
	t.Helper()
	err := store.WithTx(context.Background(), func(ltx Tx) error {
		return ltx.(*tx).io.save(context.Background(), account)
	})
	if err != nil {
		t.Fatalf("seed %s: %v", account.Address, err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store, track := openTestPostgres(t)
	ctx := context.Background()
	owner := solana.NewWallet().PublicKey()
	funder := solana.NewWallet().PublicKey()
	record := solana.NewWallet().PublicKey()
	track(funder, record)
	putPostgres(t, store, Account{Address: funder, Lamports: 1_000, Owner: solana.SystemProgramID})

	err := store.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateAccount(ctx, funder, record, 600, 4, owner); err != nil {
			return err
		}
		return tx.WriteData(ctx, record, []byte{7, 8})
	})
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	var got Account
	err = store.WithTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.Account(ctx, record)
		return err
	})
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if got.Lamports != 600 || !got.IsOwnedBy(owner) || string(got.Data) != string([]byte{7, 8, 0, 0}) {
		t.Fatalf("record = %+v", got)
	}

	err = store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.Reclaim(ctx, record, funder)
		return err
	})
	if err != nil {
		t.Fatalf("Reclaim() error = %v", err)
	}
	var rows int
	if err := store.db.raw.QueryRowContext(ctx, `SELECT count(*) FROM accounts WHERE pubkey = $1`, record.String()).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 0 {
		t.Fatalf("reclaimed record still has %d rows", rows)
	}
}

func TestPostgresStoreOrdersLikeMemoryStore(t *testing.T) {
	store, track := openTestPostgres(t)
	ctx := context.Background()
	owner := solana.NewWallet().PublicKey()
	memory := NewMemoryStore(nil)
	for i := 0; i < 24; i++ {
		account := Account{Address: solana.NewWallet().PublicKey(), Lamports: uint64(i + 1), Owner: owner, Data: []byte{byte(i)}}
		track(account.Address)
		putPostgres(t, store, account)
		memory.Put(account)
	}

	for _, page := range []struct{ limit, offset int }{{0, 0}, {5, 0}, {5, 5}, {10, 20}} {
		want, err := memory.AccountsByOwner(ctx, owner, page.limit, page.offset)
		if err != nil {
			t.Fatalf("memory AccountsByOwner() error = %v", err)
		}
		got, err := store.AccountsByOwner(ctx, owner, page.limit, page.offset)
		if err != nil {
			t.Fatalf("postgres AccountsByOwner() error = %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("page %+v: got %d accounts, want %d", page, len(got), len(want))
		}
		for i := range want {
			if !got[i].Address.Equals(want[i].Address) {
				t.Fatalf("page %+v index %d: got %s, want %s", page, i, got[i].Address, want[i].Address)
			}
		}
	}
}

func TestPostgresStoreConcurrentCreateOnlyOneWins(t *testing.T) {
	store, track := openTestPostgres(t)
	ctx := context.Background()
	owner := solana.NewWallet().PublicKey()
	first := solana.NewWallet().PublicKey()
	second := solana.NewWallet().PublicKey()
	target := solana.NewWallet().PublicKey()
	track(first, second, target)
	putPostgres(t, store, Account{Address: first, Lamports: 1_000, Owner: solana.SystemProgramID})
	putPostgres(t, store, Account{Address: second, Lamports: 1_000, Owner: solana.SystemProgramID})

	created := make(chan struct{})
	release := make(chan struct{})
	firstErr := make(chan error, 1)
	go func() {
		firstErr <- store.WithTx(ctx, func(tx Tx) error {
			if err := tx.CreateAccount(ctx, first, target, 500, 8, owner); err != nil {
				close(created)
				return err
			}
			close(created)
			<-release
			return nil
		})
	}()

	<-created
	secondErr := make(chan error, 1)
	go func() {
		secondErr <- store.WithTx(ctx, func(tx Tx) error {
			return tx.CreateAccount(ctx, second, target, 500, 8, owner)
		})
	}()

	select {
	case err := <-secondErr:
		t.Fatalf("second create finished while the first was open: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	close(release)

	if err := <-firstErr; err != nil {
		t.Fatalf("first create error = %v", err)
	}
	if err := <-secondErr; !errors.Is(err, ErrAccountAlreadyInUse) {
		t.Fatalf("second create error = %v, want %v", err, ErrAccountAlreadyInUse)
	}

	var lamports string
	if err := store.db.raw.QueryRowContext(ctx, `SELECT lamports FROM accounts WHERE pubkey = $1`, second.String()).Scan(&lamports); err != nil {
		t.Fatalf("read loser funder: %v", err)
	}
	if lamports != "1000" {
		t.Fatalf("losing funder lamports = %s, want 1000", lamports)
	}
}
