package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists accounts in a single table. Every address touched by
// a transaction is locked until it commits or rolls back, including addresses
// that have no row yet.
type PostgresStore struct {
	db   *DB
	rent Rent
}

type DB struct {
	raw *sql.DB
}

type SQLTx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*SQLTx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &SQLTx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *SQLTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *SQLTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *SQLTx) Commit() error {
	return tx.raw.Commit()
}

func (tx *SQLTx) Rollback() error {
	return tx.raw.Rollback()
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// Two single quotes inside a literal are an escaped quote.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewPostgresStore(ctx context.Context, dsn string, rent Rent) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: &DB{raw: db}, rent: rent}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			pubkey TEXT PRIMARY KEY,
			lamports TEXT NOT NULL,
			owner TEXT NOT NULL,
			data BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate accounts: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(newTx(&postgresRows{tx: tx}, s.rent)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) AccountsByOwner(ctx context.Context, owner solana.PublicKey, limit, offset int) ([]Account, error) {
	query := `SELECT pubkey, lamports, data FROM accounts WHERE owner = ? ORDER BY pubkey COLLATE "C" ASC`
	args := []any{owner.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts owned by %s: %w", owner, err)
	}
	defer rows.Close()

	items := make([]Account, 0)
	for rows.Next() {
		var (
			pubkeyText   string
			lamportsText string
			data         []byte
		)
		if err := rows.Scan(&pubkeyText, &lamportsText, &data); err != nil {
			return nil, err
		}
		address, err := solana.PublicKeyFromBase58(pubkeyText)
		if err != nil {
			return nil, fmt.Errorf("parse pubkey %q: %w", pubkeyText, err)
		}
		lamports, err := strconv.ParseUint(lamportsText, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lamports %q: %w", lamportsText, err)
		}
		items = append(items, Account{
			Address:  address,
			Lamports: lamports,
			Owner:    owner,
			Data:     data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type postgresRows struct {
	tx *SQLTx
}

func (r *postgresRows) load(ctx context.Context, address solana.PublicKey) (Account, error) {
	var (
		lamportsText string
		ownerText    string
		data         []byte
	)
	// FOR UPDATE cannot lock a row that does not exist yet, so two creates of
	// the same address would both see it empty. The address lock covers that.
	if _, err := r.tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended(?, 0))`,
		address.String(),
	); err != nil {
		return Account{}, fmt.Errorf("lock account %s: %w", address, err)
	}
	err := r.tx.QueryRowContext(ctx,
		`SELECT lamports, owner, data FROM accounts WHERE pubkey = ? FOR UPDATE`,
		address.String(),
	).Scan(&lamportsText, &ownerText, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyAccount(address), nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}

	lamports, err := strconv.ParseUint(lamportsText, 10, 64)
	if err != nil {
		return Account{}, fmt.Errorf("parse lamports %q: %w", lamportsText, err)
	}
	owner, err := solana.PublicKeyFromBase58(ownerText)
	if err != nil {
		return Account{}, fmt.Errorf("parse owner %q: %w", ownerText, err)
	}
	if len(data) == 0 {
		data = nil
	}
	return Account{
		Address:  address,
		Lamports: lamports,
		Owner:    owner,
		Data:     data,
	}, nil
}

func (r *postgresRows) save(ctx context.Context, account Account) error {
	if !account.Exists() && account.Owner.Equals(solana.SystemProgramID) {
		if _, err := r.tx.ExecContext(ctx, `DELETE FROM accounts WHERE pubkey = ?`, account.Address.String()); err != nil {
			return fmt.Errorf("delete account %s: %w", account.Address, err)
		}
		return nil
	}

	data := account.Data
	if data == nil {
		data = []byte{}
	}
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO accounts(pubkey, lamports, owner, data, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			lamports = excluded.lamports,
			owner = excluded.owner,
			data = excluded.data,
			updated_at = excluded.updated_at
	`,
		account.Address.String(),
		strconv.FormatUint(account.Lamports, 10),
		account.Owner.String(),
		data,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", account.Address, err)
	}
	return nil
}
