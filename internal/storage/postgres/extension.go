package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func (s *Store) InsertExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error {
	authJSON, err := json.Marshal(e.RegistryAuth)
	if err != nil {
		return gofererr.NewInternal("extension_marshal_auth", err.Error(), "")
	}
	settingsJSON, err := json.Marshal(e.Settings)
	if err != nil {
		return gofererr.NewInternal("extension_marshal_settings", err.Error(), "")
	}

	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO extension_registrations (extension_id, image, registry_auth, settings, created, modified, status, key_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ExtensionID, e.Image, string(authJSON), string(settingsJSON), epochStr(e.Created), epochStr(e.Modified), string(e.Status), e.KeyID)
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("extension_registration", e.ExtensionID)
		}
		return gofererr.NewInternal("extension_insert", err.Error(), "")
	}
	return tx.Commit()
}

func scanExtensionRegistration(row interface{ Scan(dest ...any) error }) (*models.ExtensionRegistration, error) {
	var e models.ExtensionRegistration
	var auth, settings, created, modified, status string
	if err := row.Scan(&e.ExtensionID, &e.Image, &auth, &settings, &created, &modified, &status, &e.KeyID); err != nil {
		return nil, err
	}
	if auth != "" && auth != "null" {
		if err := json.Unmarshal([]byte(auth), &e.RegistryAuth); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(settings), &e.Settings); err != nil {
		return nil, err
	}
	e.Created = parseEpoch(created)
	e.Modified = parseEpoch(modified)
	e.Status = models.ExtensionRegistrationStatus(status)
	return &e, nil
}

func (s *Store) GetExtensionRegistration(ctx context.Context, extensionID string) (*models.ExtensionRegistration, error) {
	row := s.queryRow(ctx, `
		SELECT extension_id, image, registry_auth, settings, created, modified, status, key_id
		FROM extension_registrations WHERE extension_id = ?
	`, extensionID)
	e, err := scanExtensionRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("extension_registration", extensionID)
		}
		return nil, gofererr.NewInternal("extension_get", err.Error(), "")
	}
	return e, nil
}

func (s *Store) ListExtensionRegistrations(ctx context.Context) ([]*models.ExtensionRegistration, error) {
	rows, err := s.query(ctx, `
		SELECT extension_id, image, registry_auth, settings, created, modified, status, key_id FROM extension_registrations
	`)
	if err != nil {
		return nil, gofererr.NewInternal("extension_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.ExtensionRegistration
	for rows.Next() {
		e, err := scanExtensionRegistration(rows)
		if err != nil {
			return nil, gofererr.NewInternal("extension_list_scan", err.Error(), "")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateExtensionRegistrationStatus(ctx context.Context, extensionID string, status models.ExtensionRegistrationStatus) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE extension_registrations SET status = ?, modified = ? WHERE extension_id = ?
	`), string(status), epochStr(models.NowMilli()), extensionID)
	if err != nil {
		return gofererr.NewInternal("extension_update_status", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("extension_registration", extensionID)
	}
	return tx.Commit()
}

func (s *Store) DeleteExtensionRegistration(ctx context.Context, extensionID string) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM extension_registrations WHERE extension_id = ?`), extensionID)
	if err != nil {
		return gofererr.NewInternal("extension_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("extension_registration", extensionID)
	}
	return tx.Commit()
}

func (s *Store) InsertExtensionSubscription(ctx context.Context, sub *models.ExtensionSubscription) error {
	settingsJSON, err := json.Marshal(sub.Settings)
	if err != nil {
		return gofererr.NewInternal("extension_subscription_marshal_settings", err.Error(), "")
	}

	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO extension_subscriptions (namespace, pipeline, extension_id, label, settings, status, status_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), sub.Namespace, sub.Pipeline, sub.ExtensionID, sub.Label, string(settingsJSON), string(sub.Status), sub.StatusReason)
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("extension_subscription", sub.Label)
		}
		return gofererr.NewInternal("extension_subscription_insert", err.Error(), "")
	}
	return tx.Commit()
}

func scanExtensionSubscription(row interface{ Scan(dest ...any) error }) (*models.ExtensionSubscription, error) {
	var sub models.ExtensionSubscription
	var settings, status string
	if err := row.Scan(&sub.Namespace, &sub.Pipeline, &sub.ExtensionID, &sub.Label, &settings, &status, &sub.StatusReason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &sub.Settings); err != nil {
		return nil, err
	}
	sub.Status = models.ExtensionSubscriptionStatus(status)
	return &sub, nil
}

func (s *Store) GetExtensionSubscription(ctx context.Context, namespace, pipeline, extensionID, label string) (*models.ExtensionSubscription, error) {
	row := s.queryRow(ctx, `
		SELECT namespace, pipeline, extension_id, label, settings, status, status_reason
		FROM extension_subscriptions WHERE namespace = ? AND pipeline = ? AND extension_id = ? AND label = ?
	`, namespace, pipeline, extensionID, label)
	sub, err := scanExtensionSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("extension_subscription", label)
		}
		return nil, gofererr.NewInternal("extension_subscription_get", err.Error(), "")
	}
	return sub, nil
}

func (s *Store) ListExtensionSubscriptions(ctx context.Context, namespace, pipeline string) ([]*models.ExtensionSubscription, error) {
	rows, err := s.query(ctx, `
		SELECT namespace, pipeline, extension_id, label, settings, status, status_reason
		FROM extension_subscriptions WHERE namespace = ? AND pipeline = ?
	`, namespace, pipeline)
	if err != nil {
		return nil, gofererr.NewInternal("extension_subscription_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.ExtensionSubscription
	for rows.Next() {
		sub, err := scanExtensionSubscription(rows)
		if err != nil {
			return nil, gofererr.NewInternal("extension_subscription_list_scan", err.Error(), "")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) DeleteExtensionSubscription(ctx context.Context, namespace, pipeline, extensionID, label string) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		DELETE FROM extension_subscriptions WHERE namespace = ? AND pipeline = ? AND extension_id = ? AND label = ?
	`), namespace, pipeline, extensionID, label)
	if err != nil {
		return gofererr.NewInternal("extension_subscription_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("extension_subscription", label)
	}
	return tx.Commit()
}
