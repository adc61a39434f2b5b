package archive

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MeKo-Tech/imagex/internal/filter"
)

// Store reads and writes archived exports.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS exports (
			name TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			brightness INTEGER NOT NULL,
			contrast INTEGER NOT NULL,
			saturation INTEGER NOT NULL,
			filter TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			data BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS exports_created ON exports (created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Put stores e, replacing any export with the same name.
// A zero CreatedAt is set to the current time.
func (s *Store) Put(e Entry) error {
	if e.Name == "" {
		return errors.New("export name is empty")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	compressed, err := gzipCompress(e.Data)
	if err != nil {
		return fmt.Errorf("failed to compress export %q: %w", e.Name, err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO exports
			(name, format, width, height, brightness, contrast, saturation, filter, created_at, bytes, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.Format, e.Size.Width, e.Size.Height,
		e.Params.Brightness, e.Params.Contrast, e.Params.Saturation,
		string(e.Filter), e.CreatedAt.UnixMilli(), len(e.Data), compressed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert export %q: %w", e.Name, err)
	}

	return nil
}

// Get returns the export stored under name with its data decompressed.
func (s *Store) Get(name string) (Entry, error) {
	row := s.db.QueryRow(
		`SELECT name, format, width, height, brightness, contrast, saturation, filter, created_at, bytes, data
			FROM exports WHERE name = ?`, name)

	var compressed []byte
	e, err := scanEntry(row, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to query export: %w", err)
	}

	e.Data, err = gzipDecompress(compressed)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decompress export %q: %w", name, err)
	}

	return e, nil
}

// List returns metadata for all exports, newest first. Data is left nil.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT name, format, width, height, brightness, contrast, saturation, filter, created_at, bytes
			FROM exports ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exports: %w", err)
	}

	return entries, nil
}

// Delete removes the named export. Deleting a missing name returns ErrNotFound.
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec("DELETE FROM exports WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete export %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete export %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row; data is scanned only when non-nil.
func scanEntry(sc scanner, data *[]byte) (Entry, error) {
	var (
		e       Entry
		kind    string
		created int64
	)
	dest := []any{
		&e.Name, &e.Format, &e.Size.Width, &e.Size.Height,
		&e.Params.Brightness, &e.Params.Contrast, &e.Params.Saturation,
		&kind, &created, &e.Bytes,
	}
	if data != nil {
		dest = append(dest, data)
	}
	if err := sc.Scan(dest...); err != nil {
		return Entry{}, err
	}
	e.Filter = filter.Kind(kind)
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
