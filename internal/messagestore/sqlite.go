package messagestore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"tgfs-go/internal/messagestore/migrations"
	"tgfs-go/internal/tgfs"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is a MessageStore backed by a single SQLite file. Messages
// are rows; pins carry a sequence number so the newest pin sorts first.
type SQLiteStore struct {
	db      *sql.DB
	maxSize int64
	clock   tgfs.Clock
}

var _ tgfs.MessageStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the database at path. path can be a
// file path or ":memory:".
func NewSQLiteStore(path string, maxSize int64, clock tgfs.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating message store: %w", err)
	}
	return &SQLiteStore{db: db, maxSize: maxSize, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection. A single
// connection is used so ":memory:" databases are shared by all queries.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) readAttachment(r io.Reader, size int64) ([]byte, error) {
	if s.maxSize > 0 && size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", tgfs.ErrAttachmentTooLarge, size, s.maxSize)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

// SendAttachment inserts a new message row.
func (s *SQLiteStore) SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (tgfs.MessageID, error) {
	data, err := s.readAttachment(r, size)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (name, data, size, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, data, size, now, now)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading message id: %w", err)
	}
	return tgfs.MessageID(id), nil
}

// EditAttachment updates an existing message row.
func (s *SQLiteStore) EditAttachment(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	data, err := s.readAttachment(r, size)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET name = ?, data = ?, size = ?, updated_at = ? WHERE id = ?`,
		name, data, size, s.clock.Now().UnixNano(), int64(id))
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
	}
	return nil
}

// DownloadAttachment reads the attachment blob. Attachments are bounded by
// the part size, so the blob is read in one query.
func (s *SQLiteStore) DownloadAttachment(ctx context.Context, id tgfs.MessageID) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM messages WHERE id = ?`, int64(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return nil, fmt.Errorf("reading message: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Pin records id as the most recent pin.
func (s *SQLiteStore) Pin(ctx context.Context, id tgfs.MessageID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, int64(id)).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return fmt.Errorf("checking message: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(pinned_seq), 0) + 1 FROM pins`).Scan(&seq); err != nil {
		return fmt.Errorf("allocating pin sequence: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pins (message_id, pinned_seq) VALUES (?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET pinned_seq = excluded.pinned_seq`,
		int64(id), seq)
	if err != nil {
		return fmt.Errorf("pinning message: %w", err)
	}
	return tx.Commit()
}

// ListPinned returns pinned ids, most recent first.
func (s *SQLiteStore) ListPinned(ctx context.Context) ([]tgfs.MessageID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id FROM pins ORDER BY pinned_seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing pins: %w", err)
	}
	defer rows.Close()

	var ids []tgfs.MessageID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning pin: %w", err)
		}
		ids = append(ids, tgfs.MessageID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pins: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
