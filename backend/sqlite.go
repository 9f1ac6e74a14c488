package backend

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLite stores object data as BLOBs in a single database file. Buckets are
// rows in their own table so that operations on unknown buckets can be
// reported as such.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath, applies PRAGMAs and
// creates the required tables.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	return s, nil
}

func (s *SQLite) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS objects (
			bucket TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
			name   TEXT NOT NULL,
			data   BLOB NOT NULL,
			PRIMARY KEY (bucket, name)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// CreateBucket creates the named bucket. It is a no-op if the bucket exists.
func (s *SQLite) CreateBucket(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO buckets (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("creating bucket %q: %w", name, err)
	}
	return nil
}

// Bucket returns a handle for the named bucket.
func (s *SQLite) Bucket(name string) Bucket {
	return &sqliteBucket{name: name, db: s.db}
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type sqliteBucket struct {
	name string
	db   *sql.DB
}

func (b *sqliteBucket) Name() string {
	return b.name
}

// checkBucket returns a bucket 404 if the bucket row is missing.
func (b *sqliteBucket) checkBucket(ctx context.Context) error {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, b.name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return errBucketNotExist(nil)
	}
	if err != nil {
		return fmt.Errorf("looking up bucket %q: %w", b.name, err)
	}
	return nil
}

func (b *sqliteBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE bucket = ? AND name = ?`,
		b.name, object,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		if err := b.checkBucket(ctx); err != nil {
			return nil, err
		}
		return nil, errObjectNotExist(b.name, object, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q/%q: %w", b.name, object, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put reads all data and stores it with INSERT OR REPLACE so that re-uploads
// overwrite the existing row.
func (b *sqliteBucket) Put(ctx context.Context, object string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading object data: %w", err)
	}
	if err := b.checkBucket(ctx); err != nil {
		return 0, err
	}
	if data == nil {
		data = []byte{}
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (bucket, name, data) VALUES (?, ?, ?)`,
		b.name, object, data,
	)
	if err != nil {
		return 0, fmt.Errorf("putting object %q/%q: %w", b.name, object, err)
	}
	return int64(len(data)), nil
}

func (b *sqliteBucket) Delete(ctx context.Context, object string) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND name = ?`,
		b.name, object,
	)
	if err != nil {
		return fmt.Errorf("deleting object %q/%q: %w", b.name, object, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting object %q/%q: %w", b.name, object, err)
	}
	if n == 0 {
		if err := b.checkBucket(ctx); err != nil {
			return err
		}
		return errObjectNotExist(b.name, object, nil)
	}
	return nil
}

func (b *sqliteBucket) Exists(ctx context.Context, object string) (bool, error) {
	if err := b.checkBucket(ctx); err != nil {
		return false, err
	}
	var count int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE bucket = ? AND name = ?`,
		b.name, object,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking object existence %q/%q: %w", b.name, object, err)
	}
	return count > 0, nil
}

func (b *sqliteBucket) Copy(ctx context.Context, srcObject, dstObject string) error {
	res, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (bucket, name, data)
		 SELECT bucket, ?, data FROM objects WHERE bucket = ? AND name = ?`,
		dstObject, b.name, srcObject,
	)
	if err != nil {
		return fmt.Errorf("copying object %q/%q: %w", b.name, srcObject, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("copying object %q/%q: %w", b.name, srcObject, err)
	}
	if n == 0 {
		if err := b.checkBucket(ctx); err != nil {
			return err
		}
		return errObjectNotExist(b.name, srcObject, nil)
	}
	return nil
}

// List pushes the prefix and offset bounds into SQL and applies the glob in
// Go. Names are compared with SQLite's default BINARY collation, which is
// byte order.
func (b *sqliteBucket) List(ctx context.Context, q *Query) ([]string, error) {
	m, err := newMatcher(q)
	if err != nil {
		return nil, err
	}
	if err := b.checkBucket(ctx); err != nil {
		return nil, err
	}

	query := `SELECT name FROM objects WHERE bucket = ?`
	args := []any{b.name}
	if m.q.Prefix != "" {
		query += ` AND substr(name, 1, length(?)) = ?`
		args = append(args, m.q.Prefix, m.q.Prefix)
	}
	if m.q.StartOffset != "" {
		query += ` AND name >= ?`
		args = append(args, m.q.StartOffset)
	}
	if m.q.EndOffset != "" {
		query += ` AND name < ?`
		args = append(args, m.q.EndOffset)
	}
	query += ` ORDER BY name`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing objects in %q: %w", b.name, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning object name: %w", err)
		}
		if !m.match(name) {
			continue
		}
		names = append(names, name)
		if m.full(len(names)) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing objects in %q: %w", b.name, err)
	}
	return names, nil
}

// Ensure SQLite implements Backend at compile time.
var _ Backend = (*SQLite)(nil)
