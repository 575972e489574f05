package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

const deploymentColumns = `namespace, pipeline, deployment_id, start_version, end_version, started, ended, state, status, status_reason, logs`

func scanDeployment(row interface{ Scan(dest ...any) error }) (*models.Deployment, error) {
	var d models.Deployment
	var started, ended, state, status, logs string
	if err := row.Scan(&d.Namespace, &d.Pipeline, &d.DeploymentID, &d.StartVersion, &d.EndVersion,
		&started, &ended, &state, &status, &d.StatusReason, &logs); err != nil {
		return nil, err
	}
	d.Started = parseEpoch(started)
	d.Ended = parseEpoch(ended)
	d.State = models.DeploymentState(state)
	d.Status = models.DeploymentStatus(status)
	if err := json.Unmarshal([]byte(logs), &d.Logs); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) InsertDeployment(ctx context.Context, d *models.Deployment) error {
	logsJSON, err := json.Marshal(d.Logs)
	if err != nil {
		return gofererr.NewInternal("deployment_marshal_logs", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments (namespace, pipeline, deployment_id, start_version, end_version, started, ended, state, status, status_reason, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Namespace, d.Pipeline, d.DeploymentID, d.StartVersion, d.EndVersion,
		epochStr(d.Started), epochStr(d.Ended), string(d.State), string(d.Status), d.StatusReason, string(logsJSON))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("deployment", d.Pipeline)
		}
		return gofererr.NewInternal("deployment_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) GetDeployment(ctx context.Context, namespace, pipeline string, deploymentID int64) (*models.Deployment, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments WHERE namespace = ? AND pipeline = ? AND deployment_id = ?
	`, namespace, pipeline, deploymentID)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("deployment", pipeline)
		}
		return nil, gofererr.NewInternal("deployment_get", err.Error(), "")
	}
	return d, nil
}

func (s *Store) ListDeployments(ctx context.Context, namespace, pipeline string, opts storage.ListOptions) ([]*models.Deployment, error) {
	opts = opts.Normalize()
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments
		WHERE namespace = ? AND pipeline = ? ORDER BY deployment_id DESC LIMIT ? OFFSET ?
	`, namespace, pipeline, opts.Limit, opts.Offset)
	if err != nil {
		return nil, gofererr.NewInternal("deployment_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, gofererr.NewInternal("deployment_list_scan", err.Error(), "")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListRunningDeployments(ctx context.Context, namespace, pipeline string) ([]*models.Deployment, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments
		WHERE namespace = ? AND pipeline = ? AND state = ?
	`, namespace, pipeline, string(models.DeploymentStateRunning))
	if err != nil {
		return nil, gofererr.NewInternal("deployment_list_running", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, gofererr.NewInternal("deployment_list_running_scan", err.Error(), "")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) MaxDeploymentID(ctx context.Context, namespace, pipeline string) (int64, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(deployment_id), 0) FROM deployments WHERE namespace = ? AND pipeline = ?
	`, namespace, pipeline)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, gofererr.NewInternal("deployment_max_id", err.Error(), "")
	}
	return max, nil
}

func (s *Store) UpdateDeployment(ctx context.Context, d *models.Deployment) error {
	logsJSON, err := json.Marshal(d.Logs)
	if err != nil {
		return gofererr.NewInternal("deployment_marshal_logs", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE deployments SET ended = ?, state = ?, status = ?, status_reason = ?, logs = ?
		WHERE namespace = ? AND pipeline = ? AND deployment_id = ?
	`, epochStr(d.Ended), string(d.State), string(d.Status), d.StatusReason, string(logsJSON),
		d.Namespace, d.Pipeline, d.DeploymentID)
	if err != nil {
		return gofererr.NewInternal("deployment_update", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("deployment", d.Pipeline)
	}
	return tx.Commit()
}
