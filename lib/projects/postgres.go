package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	owner      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// postgresStore implements IStore on a Postgres database via pgx.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given database URL and ensures the
// projects table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (IStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating projects table: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see projects.IStore)
// --------------------------------------------------------------------------

func (s *postgresStore) Create(ctx context.Context, title, owner string) (Project, error) {
	p := Project{
		ID:        uuid.NewString(),
		Title:     title,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, title, owner, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Title, p.Owner, p.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("inserting project: %w", err)
	}
	return p, nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (Project, bool, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, owner, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Title, &p.Owner, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, fmt.Errorf("querying project: %w", err)
	}
	return p, true, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
