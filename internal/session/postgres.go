package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"contractguard/internal/agent"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
  id         TEXT PRIMARY KEY,
  messages   JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore 将会话保存在 conversations 表中，messages 列为 JSONB。
type PostgresStore struct{ DB *pgxpool.Pool }

var _ Store = (*PostgresStore)(nil)

// Connect 建立连接池并确保表存在。
func Connect(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{DB: pool}, nil
}

func (s *PostgresStore) Close() {
	s.DB.Close()
}

func (s *PostgresStore) Load(ctx context.Context, id string) (Record, error) {
	rec := Record{ID: id}
	var raw []byte
	err := s.DB.QueryRow(ctx, `SELECT messages, updated_at FROM conversations WHERE id=$1`, id).Scan(&raw, &rec.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec.Messages); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, id string, messages []agent.Message) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if messages == nil {
		messages = []agent.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO conversations(id, messages, updated_at)
VALUES($1, $2::jsonb, now())
ON CONFLICT (id) DO UPDATE SET messages=EXCLUDED.messages, updated_at=now()
`, id, string(raw))
	return err
}

func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
