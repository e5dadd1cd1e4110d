package repositories

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS actors (
	identity TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	ownership TEXT NOT NULL,
	owner INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	attrs BLOB NOT NULL
);
`

func NewSQLiteRepository(ctx context.Context, path string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}
	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveWorld(ctx context.Context, timestamp int64, records []ActorRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM actors;`); err != nil {
		return fmt.Errorf("failed to clear actors: %v", err)
	}
	for _, record := range records {
		q := `
		INSERT OR REPLACE INTO actors (identity, name, ownership, owner, updated_at, attrs)
		VALUES (?, ?, ?, ?, ?, ?);
		`
		_, err := tx.ExecContext(ctx, q, record.Identity, record.Name, record.Ownership, record.Owner, timestamp, record.Attrs)
		if err != nil {
			return fmt.Errorf("failed to insert actor: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveActor(ctx context.Context, record ActorRecord) error {
	q := `
	INSERT OR REPLACE INTO actors (identity, name, ownership, owner, updated_at, attrs)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, record.Identity, record.Name, record.Ownership, record.Owner, record.UpdatedAt, record.Attrs)
	if err != nil {
		return fmt.Errorf("failed to insert actor: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadActor(ctx context.Context, identity string) (*ActorRecord, error) {
	q := `
	SELECT identity, name, ownership, owner, updated_at, attrs FROM actors WHERE identity = ?;
	`
	record := ActorRecord{}
	if err := r.db.QueryRowContext(ctx, q, identity).Scan(
		&record.Identity, &record.Name, &record.Ownership, &record.Owner, &record.UpdatedAt, &record.Attrs,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan actor: %v", err)
	}
	return &record, nil
}

func (r *SQLiteRepository) LoadWorld(ctx context.Context) ([]ActorRecord, error) {
	q := `
	SELECT identity, name, ownership, owner, updated_at, attrs FROM actors ORDER BY identity;
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query actors: %v", err)
	}
	defer rows.Close()

	var records []ActorRecord
	for rows.Next() {
		record := ActorRecord{}
		if err := rows.Scan(&record.Identity, &record.Name, &record.Ownership, &record.Owner, &record.UpdatedAt, &record.Attrs); err != nil {
			return nil, fmt.Errorf("failed to scan actor: %v", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *SQLiteRepository) DeleteActor(ctx context.Context, identity string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM actors WHERE identity = ?;`, identity); err != nil {
		return fmt.Errorf("failed to delete actor: %v", err)
	}
	return nil
}
