package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrEmptyID  = errors.New("account ID cannot be empty")
	ErrNotFound = errors.New("account not found")
)

// Account is the persisted session record for one connected mailbox account.
// It is read before every execution and written only by the token manager
// after a successful refresh.
type Account struct {
	ID           string
	Email        string
	Label        string
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	UpdatedAt    time.Time
}

// Store defines the interface for account session storage.
type Store interface {
	AddAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	UpdateAccount(ctx context.Context, account *Account) error
	DeleteAccount(ctx context.Context, id string) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the account database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// _busy_timeout: wait up to 5 seconds if the database is locked.
	// _journal_mode=WAL: better behavior for concurrent readers.
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// SQLite serializes writers anyway; a single connection avoids
	// "database is locked" errors instead of surfacing them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL,
			client_secret TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		return ErrEmptyID
	}
	account.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, label, access_token, refresh_token, client_id, client_secret, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Email, account.Label, account.AccessToken,
		account.RefreshToken, account.ClientID, account.ClientSecret, account.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, label, access_token, refresh_token, client_id, client_secret, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, label, access_token, refresh_token, client_id, client_secret, updated_at
		FROM accounts ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) UpdateAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		return ErrEmptyID
	}
	account.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET email = ?, label = ?, access_token = ?, refresh_token = ?, client_id = ?, client_secret = ?, updated_at = ?
		WHERE id = ?`,
		account.Email, account.Label, account.AccessToken, account.RefreshToken,
		account.ClientID, account.ClientSecret, account.UpdatedAt, account.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAccount(row scannable) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Label, &a.AccessToken, &a.RefreshToken,
		&a.ClientID, &a.ClientSecret, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
