// Package sqldoc stores records as JSON documents in one relational
// table, keyed by collection and id. Filtering and sorting run in
// process over the decoded documents, so the SQL surface stays small
// enough to work unchanged on PostgreSQL and SQLite.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/armature-dev/armature/store"
)

const tableName = "armature_records"

// Store persists records in a SQL database. Find returns records in id
// order unless the query sorts; engine-generated ids are ULIDs, so id
// order follows creation order.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects a database by driver name and prepares the document
// table. Supported drivers are "pgx", "postgres", and "sqlite3".
func Open(driver, dsn string) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == SQLite {
		// SQLite serializes writers, and an in-memory database exists
		// per connection.
		db.SetMaxOpenConns(1)
	}
	s := New(db, dialect)
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The caller owns schema setup unless
// it calls EnsureSchema.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying connection for session and job storage
// sharing the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the document table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schemaDDL()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Record, error) {
	query := fmt.Sprintf(
		"SELECT doc FROM %s WHERE collection = %s AND id = %s",
		tableName, s.dialect.placeholder(1), s.dialect.placeholder(2),
	)

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if err != nil {
		return nil, convertDBError(err)
	}
	return decodeDoc(raw)
}

// Find returns the records matching the query.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	recs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return store.Apply(recs, q), nil
}

// Count returns the number of records matching the filter.
func (s *Store) Count(ctx context.Context, collection string, f store.Filter) (int, error) {
	if len(f) == 0 {
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE collection = %s",
			tableName, s.dialect.placeholder(1),
		)
		var n int
		if err := s.db.QueryRowContext(ctx, query, collection).Scan(&n); err != nil {
			return 0, convertDBError(err)
		}
		return n, nil
	}

	recs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if store.Match(rec, f) {
			n++
		}
	}
	return n, nil
}

// Insert stores a new record under its id.
func (s *Store) Insert(ctx context.Context, collection string, rec store.Record) error {
	id, _ := rec[store.IDField].(string)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (collection, id, doc) VALUES (%s, %s, %s)",
		tableName, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3),
	)
	if _, err := s.db.ExecContext(ctx, query, collection, id, string(raw)); err != nil {
		return convertDBError(err)
	}
	return nil
}

// Update applies changes to an existing record and returns the result.
// A nil change value removes the attribute. The read-merge-write runs in
// one transaction so concurrent patches do not lose attributes.
func (s *Store) Update(ctx context.Context, collection, id string, changes store.Record) (store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		"SELECT doc FROM %s WHERE collection = %s AND id = %s%s",
		tableName, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.rowLock(),
	)
	var raw []byte
	if err := tx.QueryRowContext(ctx, query, collection, id).Scan(&raw); err != nil {
		return nil, convertDBError(err)
	}

	rec, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	update := fmt.Sprintf(
		"UPDATE %s SET doc = %s WHERE collection = %s AND id = %s",
		tableName, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3),
	)
	if _, err := tx.ExecContext(ctx, update, string(encoded), collection, id); err != nil {
		return nil, convertDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE collection = %s AND id = %s",
		tableName, s.dialect.placeholder(1), s.dialect.placeholder(2),
	)
	res, err := s.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return convertDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return convertDBError(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadCollection(ctx context.Context, collection string) ([]store.Record, error) {
	query := fmt.Sprintf(
		"SELECT doc FROM %s WHERE collection = %s ORDER BY id",
		tableName, s.dialect.placeholder(1),
	)
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, convertDBError(err)
	}
	defer rows.Close()

	var recs []store.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, convertDBError(err)
		}
		rec, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, convertDBError(err)
	}
	return recs, nil
}

func decodeDoc(raw []byte) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
