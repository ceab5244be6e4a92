package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"tgtriage/internal/migrations"
	"tgtriage/internal/security"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// PendingLogin is a sign-in challenge waiting for the operator's code
type PendingLogin struct {
	Phone         string    `db:"phone"`
	PhoneCodeHash string    `db:"phone_code_hash"`
	CreatedAt     time.Time `db:"-"`
	CreatedAtUnix int64     `db:"created_at"`
}

type Database struct {
	db        *sqlx.DB
	encryptor *encryptor
	now       func() time.Time
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sqlx.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	closeWith := func(err error, format string) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf(format+": %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf(format+": %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, closeWith(err, "failed to ping database")
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		return nil, closeWith(err, "failed to initialize schema")
	}

	enc, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(err, "failed to initialize encryptor")
	}

	return &Database{db: db, encryptor: enc, now: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection, used by the health endpoint
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SavePendingLogin stores or replaces the challenge for phone
func (d *Database) SavePendingLogin(ctx context.Context, phone, phoneCodeHash string) error {
	encPhone, err := d.encryptor.Encrypt(phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}
	encHash, err := d.encryptor.Encrypt(phoneCodeHash)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone code hash: %w", err)
	}

	key := d.encryptor.LookupHash(phone)
	createdAt := d.now().Unix()

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertPendingLoginQuery, key, encPhone, encHash, createdAt)
		return err
	}, "save pending login")
}

// GetPendingLogin returns the challenge for phone, or nil when none is stored
func (d *Database) GetPendingLogin(ctx context.Context, phone string) (*PendingLogin, error) {
	var row PendingLogin
	err := retryableDBOperationNoReturn(ctx, func() error {
		return d.db.GetContext(ctx, &row, SelectPendingLoginQuery, d.encryptor.LookupHash(phone))
	}, "get pending login")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if row.Phone, err = d.encryptor.Decrypt(row.Phone); err != nil {
		return nil, fmt.Errorf("failed to decrypt phone: %w", err)
	}
	if row.PhoneCodeHash, err = d.encryptor.Decrypt(row.PhoneCodeHash); err != nil {
		return nil, fmt.Errorf("failed to decrypt phone code hash: %w", err)
	}
	row.CreatedAt = time.Unix(row.CreatedAtUnix, 0)
	return &row, nil
}

// DeletePendingLogin removes the challenge for phone; missing rows are not an error
func (d *Database) DeletePendingLogin(ctx context.Context, phone string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, DeletePendingLoginQuery, d.encryptor.LookupHash(phone))
		return err
	}, "delete pending login")
}

// PurgePendingLoginsOlderThan deletes challenges created before cutoff
func (d *Database) PurgePendingLoginsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, PurgePendingLoginsQuery, cutoff.Unix())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	}, "purge pending logins")
	return deleted, err
}

// CountPendingLogins reports how many challenges are stored
func (d *Database) CountPendingLogins(ctx context.Context) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, CountPendingLoginsQuery); err != nil {
		return 0, fmt.Errorf("failed to count pending logins: %w", err)
	}
	return n, nil
}
