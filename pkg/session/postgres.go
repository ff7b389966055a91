package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entrhq/keeper/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS keeper_sessions (
	app_id     TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	session_id TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (app_id, user_id, session_id)
);

CREATE TABLE IF NOT EXISTS keeper_turns (
	id         BIGSERIAL   PRIMARY KEY,
	app_id     TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	session_id TEXT        NOT NULL,
	user_text  TEXT        NOT NULL,
	agent_text TEXT        NOT NULL,
	events     JSONB       NOT NULL DEFAULT '[]',
	seed       BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (app_id, user_id, session_id)
		REFERENCES keeper_sessions (app_id, user_id, session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS keeper_turns_session_idx
	ON keeper_turns (app_id, user_id, session_id, id);
`

// PostgresStore implements Store on PostgreSQL. Turns live in their own
// table and are removed with their session by cascade.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres opens a pool for databaseURL and pings it.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// Migrate creates the tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate session schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Get loads a session with its turns in insertion order.
func (p *PostgresStore) Get(ctx context.Context, id Identity) (*Session, error) {
	query := `
		SELECT created_at, updated_at
		FROM keeper_sessions
		WHERE app_id = $1 AND user_id = $2 AND session_id = $3
	`
	s := &Session{ID: id, Turns: []Turn{}}
	err := p.pool.QueryRow(ctx, query, id.AppID, id.UserID, id.SessionID).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT user_text, agent_text, events, seed, created_at
		FROM keeper_turns
		WHERE app_id = $1 AND user_id = $2 AND session_id = $3
		ORDER BY id
	`, id.AppID, id.UserID, id.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t          Turn
			eventsJSON []byte
		)
		if err := rows.Scan(&t.User, &t.Agent, &eventsJSON, &t.Seed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if len(eventsJSON) > 0 {
			var events []*types.Event
			if err := sonic.ConfigStd.Unmarshal(eventsJSON, &events); err != nil {
				return nil, fmt.Errorf("failed to unmarshal turn events: %w", err)
			}
			if len(events) > 0 {
				t.Events = events
			}
		}
		s.Turns = append(s.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns of %s: %w", id, err)
	}
	return s, nil
}

// Create inserts a new session row.
func (p *PostgresStore) Create(ctx context.Context, id Identity) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO keeper_sessions (app_id, user_id, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`
	s := &Session{ID: id, Turns: []Turn{}}
	err := p.pool.QueryRow(ctx, query, id.AppID, id.UserID, id.SessionID).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return s, nil
}

// Delete removes a session; its turns go with it.
func (p *PostgresStore) Delete(ctx context.Context, id Identity) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM keeper_sessions
		WHERE app_id = $1 AND user_id = $2 AND session_id = $3
	`, id.AppID, id.UserID, id.SessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn inserts a turn and touches the session in one transaction.
func (p *PostgresStore) AppendTurn(ctx context.Context, id Identity, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	events := turn.Events
	if events == nil {
		events = []*types.Event{}
	}
	eventsJSON, err := sonic.ConfigStd.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal turn events: %w", err)
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE keeper_sessions SET updated_at = $4
			WHERE app_id = $1 AND user_id = $2 AND session_id = $3
		`, id.AppID, id.UserID, id.SessionID, turn.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to touch session %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO keeper_turns (app_id, user_id, session_id, user_text, agent_text, events, seed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id.AppID, id.UserID, id.SessionID, turn.User, turn.Agent, eventsJSON, turn.Seed, turn.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert turn for %s: %w", id, err)
		}
		return nil
	})
}
