package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	return setKV(ctx, s.db, "config", key, value)
}

func (tx *sqlTx) SetConfig(ctx context.Context, key, value string) error {
	return setKV(ctx, tx.conn, "config", key, value)
}

func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	return getKV(ctx, s.db, "config", key)
}

func (tx *sqlTx) GetConfig(ctx context.Context, key string) (string, error) {
	return getKV(ctx, tx.conn, "config", key)
}

func (s *SQLiteStorage) DeleteConfig(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete config: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list config: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	return setKV(ctx, s.db, "metadata", key, value)
}

func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return getKV(ctx, s.db, "metadata", key)
}

func setKV(ctx context.Context, ex execer, table, key, value string) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, table), key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set %s: %w", table, err)
	}
	return nil
}

func getKV(ctx context.Context, ex execer, table, key string) (string, error) {
	var value string
	err := ex.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", core.NewError(core.ErrNotFound, "%s key %s not found", table, key)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get %s: %w", table, err)
	}
	return value, nil
}
