package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS actors (
	identity TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	ownership TEXT NOT NULL,
	owner BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	attrs BYTEA NOT NULL
);
`

// NewPostgresRepository connects and ensures the schema exists. The caller
// is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (Repository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}
	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}
	return &PostgresRepository{
		conn: conn,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) SaveWorld(ctx context.Context, timestamp int64, records []ActorRecord) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM actors;`); err != nil {
		return fmt.Errorf("failed to clear actors: %v", err)
	}
	for _, record := range records {
		q := `
		INSERT INTO actors (identity, name, ownership, owner, updated_at, attrs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity) DO UPDATE SET name = $2, ownership = $3, owner = $4, updated_at = $5, attrs = $6;
		`
		if _, err := tx.Exec(ctx, q, record.Identity, record.Name, record.Ownership, record.Owner, timestamp, record.Attrs); err != nil {
			return fmt.Errorf("failed to insert actor: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

func (r *PostgresRepository) SaveActor(ctx context.Context, record ActorRecord) error {
	q := `
	INSERT INTO actors (identity, name, ownership, owner, updated_at, attrs)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (identity) DO UPDATE SET name = $2, ownership = $3, owner = $4, updated_at = $5, attrs = $6;
	`
	if _, err := r.conn.Exec(ctx, q, record.Identity, record.Name, record.Ownership, record.Owner, record.UpdatedAt, record.Attrs); err != nil {
		return fmt.Errorf("failed to insert actor: %v", err)
	}
	return nil
}

func (r *PostgresRepository) LoadActor(ctx context.Context, identity string) (*ActorRecord, error) {
	q := `
	SELECT identity, name, ownership, owner, updated_at, attrs FROM actors WHERE identity = $1;
	`
	record := ActorRecord{}
	if err := r.conn.QueryRow(ctx, q, identity).Scan(
		&record.Identity, &record.Name, &record.Ownership, &record.Owner, &record.UpdatedAt, &record.Attrs,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan actor: %v", err)
	}
	return &record, nil
}

func (r *PostgresRepository) LoadWorld(ctx context.Context) ([]ActorRecord, error) {
	q := `
	SELECT identity, name, ownership, owner, updated_at, attrs FROM actors ORDER BY identity;
	`
	rows, err := r.conn.Query(ctx, q)
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

func (r *PostgresRepository) DeleteActor(ctx context.Context, identity string) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM actors WHERE identity = $1;`, identity); err != nil {
		return fmt.Errorf("failed to delete actor: %v", err)
	}
	return nil
}
