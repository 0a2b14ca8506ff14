package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"smsrelay/internal/migrations"
	"smsrelay/internal/models"
	"smsrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite-backed message and code store. Writes are
// serialized through writeMu so consume-once lookups stay atomic.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	writeMu   sync.Mutex
	now       func() time.Time
}

func New(dbPath string) (*Database, error) {
	if err := security.EnsureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	all, err := migrations.All()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to read schema: %w", err))
	}
	for _, m := range all {
		if _, err := db.Exec(m.SQL); err != nil {
			return nil, closeWith(db, fmt.Errorf("failed to apply %s: %w", m.Name, err))
		}
	}

	enc, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &Database{db: db, encryptor: enc, now: time.Now}, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// InsertMessage stores msg unless a row with the same MessageSID exists.
// It reports whether a new row was written.
func (d *Database) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if msg == nil {
		return false, fmt.Errorf("message is nil")
	}
	if msg.MessageSID == "" {
		return false, fmt.Errorf("message_sid is required")
	}

	body, err := d.encryptor.Encrypt(msg.BodyText)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt body: %w", err)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	createdAt := d.now().UTC()
	inserted, err := withRetry(ctx, "insert message", func() (bool, error) {
		res, err := d.db.ExecContext(ctx, InsertMessageQuery,
			msg.ID,
			msg.PhoneNumber,
			msg.FromNumber,
			body,
			msg.DateSent.UTC(),
			msg.MessageSID,
			createdAt,
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	if inserted {
		msg.CreatedAt = createdAt
	}
	return inserted, nil
}

// InsertCode records code as extracted from the message smsID.
func (d *Database) InsertCode(ctx context.Context, smsID, code string) (int64, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	id, err := withRetry(ctx, "insert code", func() (int64, error) {
		res, err := d.db.ExecContext(ctx, InsertCodeQuery, smsID, code, d.now().UTC())
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert code: %w", err)
	}
	return id, nil
}

// GetLastMessage returns the most recently stored message for phone, or nil.
func (d *Database) GetLastMessage(ctx context.Context, phone string) (*models.Message, error) {
	var msg models.Message
	err := d.db.QueryRowContext(ctx, SelectLastMessageQuery, phone).Scan(
		&msg.ID,
		&msg.PhoneNumber,
		&msg.FromNumber,
		&msg.BodyText,
		&msg.DateSent,
		&msg.MessageSID,
		&msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}

	if msg.BodyText, err = d.encryptor.Decrypt(msg.BodyText); err != nil {
		return nil, fmt.Errorf("failed to decrypt body: %w", err)
	}
	return &msg, nil
}

// GetLastUnusedCode returns the newest unused code for phone and marks it used.
func (d *Database) GetLastUnusedCode(ctx context.Context, phone string) (*models.Code, error) {
	return d.consumeCode(ctx, SelectLastUnusedCodeQuery, phone)
}

// GetLastUnusedCodeFrom is GetLastUnusedCode restricted to one sender.
func (d *Database) GetLastUnusedCodeFrom(ctx context.Context, phone, from string) (*models.Code, error) {
	return d.consumeCode(ctx, SelectLastUnusedCodeFromQuery, phone, from)
}

func (d *Database) consumeCode(ctx context.Context, query string, args ...any) (*models.Code, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var code models.Code
	err = tx.QueryRowContext(ctx, query, args...).Scan(
		&code.ID,
		&code.SMSID,
		&code.Code,
		&code.Used,
		&code.CreatedAt,
		&code.BodyText,
		&code.FromNumber,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last code: %w", err)
	}

	// decrypt before marking used so a failure leaves the code available
	if code.BodyText, err = d.encryptor.Decrypt(code.BodyText); err != nil {
		return nil, fmt.Errorf("failed to decrypt body: %w", err)
	}

	res, err := tx.ExecContext(ctx, MarkCodeUsedQuery, code.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark code used: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, fmt.Errorf("failed to mark code used: rows=%d err=%v", n, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit code lookup: %w", err)
	}

	code.Used = true
	return &code, nil
}

// PruneOlderThan deletes messages stored more than days ago together with
// their codes. It returns the number of messages removed.
func (d *Database) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", days)
	}
	cutoff := d.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, DeleteOldCodesQuery, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete old codes: %w", err)
	}

	res, err := tx.ExecContext(ctx, DeleteOldMessagesQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}

// CountMessages returns the number of stored messages.
func (d *Database) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, CountMessagesQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
