package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists documents in a single JSONB-backed table. The filter
// fields used by Find are extracted into dedicated columns so selector queries
// stay indexable.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed document store.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `id, rev, kind, door_id, person_id, referrer, ts, deleted, doc`

// Get fetches a live record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM documents WHERE id = $1 AND NOT deleted`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return rec, nil
}

// Put inserts a new record (empty Rev) or replaces an existing one when the
// supplied revision still matches.
func (s *PostgresStore) Put(ctx context.Context, rec Record) (string, error) {
	newRev := uuid.NewString()
	prevRev := rec.Rev
	rec.Rev = newRev

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode document %s: %w", rec.ID, err)
	}

	var cmd pgconn.CommandTag
	if prevRev == "" {
		cmd, err = s.db.Exec(ctx, `INSERT INTO documents (id, rev, kind, door_id, person_id, referrer, ts, deleted, doc)
            VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
            ON CONFLICT (id) DO NOTHING`,
			rec.ID, newRev, rec.Kind, rec.DoorID, rec.PersonID, rec.Referrer, rec.TS, doc)
	} else {
		cmd, err = s.db.Exec(ctx, `UPDATE documents
            SET rev = $2, kind = $3, door_id = $4, person_id = $5, referrer = $6, ts = $7, doc = $8
            WHERE id = $1 AND rev = $9`,
			rec.ID, newRev, rec.Kind, rec.DoorID, rec.PersonID, rec.Referrer, rec.TS, doc, prevRev)
	}
	if err != nil {
		return "", fmt.Errorf("put document %s: %w", rec.ID, err)
	}
	if cmd.RowsAffected() == 0 {
		return "", ErrConflict
	}
	return newRev, nil
}

// Find returns live records matching the selector, bounded by limit.
func (s *PostgresStore) Find(ctx context.Context, sel Selector, limit int, order Sort) ([]Record, error) {
	clauses := []string{"NOT deleted"}
	args := []any{}

	addClause := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addClause("kind", sel.Kind)
	addClause("door_id", sel.DoorID)
	addClause("person_id", sel.PersonID)
	addClause("referrer", sel.Referrer)
	if sel.TSAfter != 0 {
		args = append(args, sel.TSAfter)
		clauses = append(clauses, fmt.Sprintf("ts > $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM documents WHERE ` + strings.Join(clauses, " AND ")
	if order == SortTSDesc {
		query += " ORDER BY ts DESC"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	return recs, nil
}

// SoftDelete marks a record deleted without removing the row.
func (s *PostgresStore) SoftDelete(ctx context.Context, id, rev string) error {
	query := `UPDATE documents SET deleted = true, rev = $2 WHERE id = $1 AND NOT deleted`
	args := []any{id, uuid.NewString()}
	if rev != "" {
		query += ` AND rev = $3`
		args = append(args, rev)
	}
	cmd, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("soft delete document %s: %w", id, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureSchema creates the documents table and its selector indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS documents (
        id        text PRIMARY KEY,
        rev       text NOT NULL,
        kind      text NOT NULL,
        door_id   text NOT NULL,
        person_id text NOT NULL DEFAULT '',
        referrer  text NOT NULL DEFAULT '',
        ts        bigint NOT NULL DEFAULT 0,
        deleted   boolean NOT NULL DEFAULT false,
        doc       jsonb NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_referrer_idx
        ON documents (referrer, door_id, ts DESC) WHERE NOT deleted`)
	if err != nil {
		return fmt.Errorf("create referrer index: %w", err)
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_usage_idx
        ON documents (kind, door_id, person_id, ts) WHERE NOT deleted`)
	if err != nil {
		return fmt.Errorf("create usage index: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec Record
		doc []byte
	)
	if err := row.Scan(&rec.ID, &rec.Rev, &rec.Kind, &rec.DoorID, &rec.PersonID, &rec.Referrer, &rec.TS, &rec.Deleted, &doc); err != nil {
		return Record{}, err
	}
	// The JSONB body carries the fields without dedicated columns.
	var full Record
	if err := json.Unmarshal(doc, &full); err != nil {
		return Record{}, err
	}
	full.ID = rec.ID
	full.Rev = rec.Rev
	full.Deleted = rec.Deleted
	return full, nil
}
