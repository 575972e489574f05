package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func (s *Store) PutSecret(ctx context.Context, scope, key string, encryptedValue []byte) error {
	return s.putScoped(ctx, "secret_store_objects", scope, key, encryptedValue)
}

func (s *Store) GetSecret(ctx context.Context, scope, key string) ([]byte, error) {
	return s.getScoped(ctx, "secret_store_objects", scope, key)
}

func (s *Store) ListSecretKeys(ctx context.Context, scopePrefix string) ([]string, error) {
	return s.listScopedKeys(ctx, "secret_store_objects", scopePrefix)
}

func (s *Store) DeleteSecret(ctx context.Context, scope, key string) error {
	return s.deleteScoped(ctx, "secret_store_objects", scope, key)
}

func (s *Store) PutObject(ctx context.Context, scope, key string, value []byte) error {
	return s.putScoped(ctx, "object_store_objects", scope, key, value)
}

func (s *Store) GetObject(ctx context.Context, scope, key string) ([]byte, error) {
	return s.getScoped(ctx, "object_store_objects", scope, key)
}

func (s *Store) ListObjectKeys(ctx context.Context, scopePrefix string) ([]string, error) {
	return s.listScopedKeys(ctx, "object_store_objects", scopePrefix)
}

func (s *Store) DeleteObject(ctx context.Context, scope, key string) error {
	return s.deleteScoped(ctx, "object_store_objects", scope, key)
}

func (s *Store) CountObjects(ctx context.Context, scopePrefix string) (int, error) {
	row := s.queryRow(ctx, `SELECT COUNT(*) FROM object_store_objects WHERE scope LIKE ?`, scopePrefix+"%")
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, gofererr.NewInternal("object_count", err.Error(), "")
	}
	return n, nil
}

func (s *Store) OldestObjectKey(ctx context.Context, scopePrefix string) (string, bool, error) {
	row := s.queryRow(ctx, `
		SELECT scope, key FROM object_store_objects WHERE scope LIKE ? ORDER BY created ASC LIMIT 1
	`, scopePrefix+"%")
	var scope, key string
	if err := row.Scan(&scope, &key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, gofererr.NewInternal("object_oldest", err.Error(), "")
	}
	return scope + "/" + key, true, nil
}

func (s *Store) putScoped(ctx context.Context, table, scope, key string, value []byte) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO `+table+` (scope, key, value, created) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value
	`), scope, key, value, epochStr(models.NowMilli()))
	if err != nil {
		return gofererr.NewInternal(table+"_put", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) getScoped(ctx context.Context, table, scope, key string) ([]byte, error) {
	row := s.queryRow(ctx, `SELECT value FROM `+table+` WHERE scope = ? AND key = ?`, scope, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound(table, scope+"/"+key)
		}
		return nil, gofererr.NewInternal(table+"_get", err.Error(), "")
	}
	return value, nil
}

func (s *Store) listScopedKeys(ctx context.Context, table, scopePrefix string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT key FROM `+table+` WHERE scope LIKE ? ORDER BY key`, scopePrefix+"%")
	if err != nil {
		return nil, gofererr.NewInternal(table+"_list_keys", err.Error(), "")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, gofererr.NewInternal(table+"_list_keys_scan", err.Error(), "")
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) deleteScoped(ctx context.Context, table, scope, key string) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE scope = ? AND key = ?`), scope, key)
	if err != nil {
		return gofererr.NewInternal(table+"_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound(table, scope+"/"+key)
	}
	return tx.Commit()
}
