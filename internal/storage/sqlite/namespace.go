package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func (s *Store) InsertNamespace(ctx context.Context, ns *models.Namespace) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO namespaces (id, name, description, created, modified)
		VALUES (?, ?, ?, ?, ?)
	`, ns.ID, ns.Name, ns.Description, epochStr(ns.Created), epochStr(ns.Modified))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("namespace", ns.ID)
		}
		return gofererr.NewInternal("namespace_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) GetNamespace(ctx context.Context, id string) (*models.Namespace, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT id, name, description, created, modified FROM namespaces WHERE id = ?
	`, id)

	var ns models.Namespace
	var created, modified string
	if err := row.Scan(&ns.ID, &ns.Name, &ns.Description, &created, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("namespace", id)
		}
		return nil, gofererr.NewInternal("namespace_get", err.Error(), "")
	}
	ns.Created = parseEpoch(created)
	ns.Modified = parseEpoch(modified)
	return &ns, nil
}

func (s *Store) ListNamespaces(ctx context.Context, opts storage.ListOptions) ([]*models.Namespace, error) {
	opts = opts.Normalize()
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, name, description, created, modified FROM namespaces
		ORDER BY id LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, gofererr.NewInternal("namespace_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Namespace
	for rows.Next() {
		var ns models.Namespace
		var created, modified string
		if err := rows.Scan(&ns.ID, &ns.Name, &ns.Description, &created, &modified); err != nil {
			return nil, gofererr.NewInternal("namespace_list_scan", err.Error(), "")
		}
		ns.Created = parseEpoch(created)
		ns.Modified = parseEpoch(modified)
		out = append(out, &ns)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNamespace(ctx context.Context, id string, fields storage.UpdatableNamespaceFields) error {
	if fields.Name == nil && fields.Description == nil {
		return gofererr.ErrNoFieldsUpdated
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, err := s.GetNamespace(ctx, id)
	if err != nil {
		return err
	}
	if fields.Name != nil {
		existing.Name = *fields.Name
	}
	if fields.Description != nil {
		existing.Description = *fields.Description
	}
	existing.Modified = models.NowMilli()

	res, err := tx.ExecContext(ctx, `
		UPDATE namespaces SET name = ?, description = ?, modified = ? WHERE id = ?
	`, existing.Name, existing.Description, epochStr(existing.Modified), id)
	if err != nil {
		return gofererr.NewInternal("namespace_update", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("namespace", id)
	}
	return tx.Commit()
}

func (s *Store) DeleteNamespace(ctx context.Context, id string) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE id = ?`, id)
	if err != nil {
		return gofererr.NewInternal("namespace_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("namespace", id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_metadata WHERE namespace = ?`, id); err != nil {
		return gofererr.NewInternal("namespace_cascade_pipeline_metadata", err.Error(), "")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_configs WHERE namespace = ?`, id); err != nil {
		return gofererr.NewInternal("namespace_cascade_pipeline_configs", err.Error(), "")
	}

	return tx.Commit()
}

func isUniqueConstraint(err error) bool {
	// mattn/go-sqlite3 reports constraint violations with "UNIQUE constraint failed"
	// in the error text; there's no typed sentinel without importing the driver's
	// sqlite3.Error, which this store avoids to keep the interface layer driver-agnostic.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
