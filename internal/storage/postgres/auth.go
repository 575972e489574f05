package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func (s *Store) InsertToken(ctx context.Context, t *models.Token) error {
	namespacesJSON, err := json.Marshal(t.Namespaces)
	if err != nil {
		return gofererr.NewInternal("token_marshal_namespaces", err.Error(), "")
	}
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return gofererr.NewInternal("token_marshal_metadata", err.Error(), "")
	}
	rolesJSON, err := json.Marshal(t.Roles)
	if err != nil {
		return gofererr.NewInternal("token_marshal_roles", err.Error(), "")
	}

	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO tokens (id, hash, kind, namespaces, metadata, roles, created, expires, disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.Hash, string(t.Kind), string(namespacesJSON), string(metadataJSON), string(rolesJSON),
		epochStr(t.Created), epochStr(t.Expires), t.Disabled)
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("token", t.ID)
		}
		return gofererr.NewInternal("token_insert", err.Error(), "")
	}
	return tx.Commit()
}

func scanToken(row interface{ Scan(dest ...any) error }) (*models.Token, error) {
	var t models.Token
	var kind, namespaces, metadata, roles, created, expires string
	if err := row.Scan(&t.ID, &t.Hash, &kind, &namespaces, &metadata, &roles, &created, &expires, &t.Disabled); err != nil {
		return nil, err
	}
	t.Kind = models.TokenKind(kind)
	if err := json.Unmarshal([]byte(namespaces), &t.Namespaces); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &t.Roles); err != nil {
		return nil, err
	}
	t.Created = parseEpoch(created)
	t.Expires = parseEpoch(expires)
	return &t, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*models.Token, error) {
	row := s.queryRow(ctx, `
		SELECT id, hash, kind, namespaces, metadata, roles, created, expires, disabled FROM tokens WHERE id = ?
	`, id)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("token", id)
		}
		return nil, gofererr.NewInternal("token_get", err.Error(), "")
	}
	return t, nil
}

func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*models.Token, error) {
	row := s.queryRow(ctx, `
		SELECT id, hash, kind, namespaces, metadata, roles, created, expires, disabled FROM tokens WHERE hash = ?
	`, hash)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("token", "<redacted>")
		}
		return nil, gofererr.NewInternal("token_get_by_hash", err.Error(), "")
	}
	return t, nil
}

func (s *Store) ListTokens(ctx context.Context, opts storage.ListOptions) ([]*models.Token, error) {
	opts = opts.Normalize()
	rows, err := s.query(ctx, `
		SELECT id, hash, kind, namespaces, metadata, roles, created, expires, disabled FROM tokens
		ORDER BY created LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, gofererr.NewInternal("token_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, gofererr.NewInternal("token_list_scan", err.Error(), "")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM tokens WHERE id = ?`), id)
	if err != nil {
		return gofererr.NewInternal("token_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("token", id)
	}
	return tx.Commit()
}

func (s *Store) InsertRole(ctx context.Context, r *models.Role) error {
	permsJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return gofererr.NewInternal("role_marshal_permissions", err.Error(), "")
	}

	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO roles (id, permissions) VALUES (?, ?)`), r.ID, string(permsJSON))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("role", r.ID)
		}
		return gofererr.NewInternal("role_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) GetRole(ctx context.Context, id string) (*models.Role, error) {
	row := s.queryRow(ctx, `SELECT id, permissions FROM roles WHERE id = ?`, id)
	var r models.Role
	var perms string
	if err := row.Scan(&r.ID, &perms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("role", id)
		}
		return nil, gofererr.NewInternal("role_get", err.Error(), "")
	}
	if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
		return nil, gofererr.NewInternal("role_unmarshal", err.Error(), "")
	}
	return &r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*models.Role, error) {
	rows, err := s.query(ctx, `SELECT id, permissions FROM roles`)
	if err != nil {
		return nil, gofererr.NewInternal("role_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Role
	for rows.Next() {
		var r models.Role
		var perms string
		if err := rows.Scan(&r.ID, &perms); err != nil {
			return nil, gofererr.NewInternal("role_list_scan", err.Error(), "")
		}
		if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
			return nil, gofererr.NewInternal("role_list_unmarshal", err.Error(), "")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM roles WHERE id = ?`), id)
	if err != nil {
		return gofererr.NewInternal("role_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("role", id)
	}
	return tx.Commit()
}
