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

func (s *Store) InsertPipelineMetadata(ctx context.Context, p *models.PipelineMetadata) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_metadata (namespace, pipeline, state, created, modified)
		VALUES (?, ?, ?, ?, ?)
	`, p.Namespace, p.Pipeline, string(p.State), epochStr(p.Created), epochStr(p.Modified))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("pipeline", p.Namespace+"/"+p.Pipeline)
		}
		return gofererr.NewInternal("pipeline_metadata_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) GetPipelineMetadata(ctx context.Context, namespace, pipeline string) (*models.PipelineMetadata, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT namespace, pipeline, state, created, modified FROM pipeline_metadata
		WHERE namespace = ? AND pipeline = ?
	`, namespace, pipeline)

	var p models.PipelineMetadata
	var state, created, modified string
	if err := row.Scan(&p.Namespace, &p.Pipeline, &state, &created, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("pipeline", namespace+"/"+pipeline)
		}
		return nil, gofererr.NewInternal("pipeline_metadata_get", err.Error(), "")
	}
	p.State = models.PipelineMetadataState(state)
	p.Created = parseEpoch(created)
	p.Modified = parseEpoch(modified)
	return &p, nil
}

func (s *Store) ListPipelineMetadata(ctx context.Context, namespace string, opts storage.ListOptions) ([]*models.PipelineMetadata, error) {
	opts = opts.Normalize()
	rows, err := s.read.QueryContext(ctx, `
		SELECT namespace, pipeline, state, created, modified FROM pipeline_metadata
		WHERE namespace = ? ORDER BY pipeline LIMIT ? OFFSET ?
	`, namespace, opts.Limit, opts.Offset)
	if err != nil {
		return nil, gofererr.NewInternal("pipeline_metadata_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.PipelineMetadata
	for rows.Next() {
		var p models.PipelineMetadata
		var state, created, modified string
		if err := rows.Scan(&p.Namespace, &p.Pipeline, &state, &created, &modified); err != nil {
			return nil, gofererr.NewInternal("pipeline_metadata_list_scan", err.Error(), "")
		}
		p.State = models.PipelineMetadataState(state)
		p.Created = parseEpoch(created)
		p.Modified = parseEpoch(modified)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePipelineMetadata(ctx context.Context, namespace, pipeline string, fields storage.UpdatablePipelineMetadataFields) error {
	if fields.State == nil {
		return gofererr.ErrNoFieldsUpdated
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE pipeline_metadata SET state = ?, modified = ? WHERE namespace = ? AND pipeline = ?
	`, string(*fields.State), epochStr(models.NowMilli()), namespace, pipeline)
	if err != nil {
		return gofererr.NewInternal("pipeline_metadata_update", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("pipeline", namespace+"/"+pipeline)
	}
	return tx.Commit()
}

func (s *Store) DeletePipelineMetadata(ctx context.Context, namespace, pipeline string) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pipeline_metadata WHERE namespace = ? AND pipeline = ?`, namespace, pipeline)
	if err != nil {
		return gofererr.NewInternal("pipeline_metadata_delete", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("pipeline", namespace+"/"+pipeline)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_configs WHERE namespace = ? AND pipeline = ?`, namespace, pipeline); err != nil {
		return gofererr.NewInternal("pipeline_metadata_cascade_configs", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) InsertPipelineConfig(ctx context.Context, c *models.PipelineConfig) error {
	tasksJSON, err := json.Marshal(c.Tasks)
	if err != nil {
		return gofererr.NewInternal("pipeline_config_marshal_tasks", err.Error(), "")
	}
	subsJSON, err := json.Marshal(c.Subscriptions)
	if err != nil {
		return gofererr.NewInternal("pipeline_config_marshal_subscriptions", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_configs
			(namespace, pipeline, version, parallelism, name, description, registered, deprecated, state, tasks, subscriptions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Namespace, c.Pipeline, c.Version, c.Parallelism, c.Name, c.Description,
		epochStr(c.Registered), epochStr(c.Deprecated), string(c.State), string(tasksJSON), string(subsJSON))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("pipeline_config", c.Pipeline)
		}
		return gofererr.NewInternal("pipeline_config_insert", err.Error(), "")
	}
	return tx.Commit()
}

func scanPipelineConfig(row interface {
	Scan(dest ...any) error
}) (*models.PipelineConfig, error) {
	var c models.PipelineConfig
	var registered, deprecated, state, tasks, subscriptions string
	if err := row.Scan(&c.Namespace, &c.Pipeline, &c.Version, &c.Parallelism, &c.Name, &c.Description,
		&registered, &deprecated, &state, &tasks, &subscriptions); err != nil {
		return nil, err
	}
	c.Registered = parseEpoch(registered)
	c.Deprecated = parseEpoch(deprecated)
	c.State = models.PipelineConfigState(state)
	if err := json.Unmarshal([]byte(tasks), &c.Tasks); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(subscriptions), &c.Subscriptions); err != nil {
		return nil, err
	}
	return &c, nil
}

const pipelineConfigColumns = `namespace, pipeline, version, parallelism, name, description, registered, deprecated, state, tasks, subscriptions`

func (s *Store) GetPipelineConfig(ctx context.Context, namespace, pipeline string, version int64) (*models.PipelineConfig, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT `+pipelineConfigColumns+` FROM pipeline_configs
		WHERE namespace = ? AND pipeline = ? AND version = ?
	`, namespace, pipeline, version)

	c, err := scanPipelineConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("pipeline_config", pipeline)
		}
		return nil, gofererr.NewInternal("pipeline_config_get", err.Error(), "")
	}
	return c, nil
}

func (s *Store) GetLivePipelineConfig(ctx context.Context, namespace, pipeline string) (*models.PipelineConfig, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT `+pipelineConfigColumns+` FROM pipeline_configs
		WHERE namespace = ? AND pipeline = ? AND state = ?
	`, namespace, pipeline, string(models.PipelineConfigStateLive))

	c, err := scanPipelineConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("pipeline_config_live", pipeline)
		}
		return nil, gofererr.NewInternal("pipeline_config_get_live", err.Error(), "")
	}
	return c, nil
}

func (s *Store) ListPipelineConfigs(ctx context.Context, namespace, pipeline string, opts storage.ListOptions) ([]*models.PipelineConfig, error) {
	opts = opts.Normalize()
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+pipelineConfigColumns+` FROM pipeline_configs
		WHERE namespace = ? AND pipeline = ? ORDER BY version DESC LIMIT ? OFFSET ?
	`, namespace, pipeline, opts.Limit, opts.Offset)
	if err != nil {
		return nil, gofererr.NewInternal("pipeline_config_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.PipelineConfig
	for rows.Next() {
		c, err := scanPipelineConfig(rows)
		if err != nil {
			return nil, gofererr.NewInternal("pipeline_config_list_scan", err.Error(), "")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdatePipelineConfigState flips a single version's state (and deprecated
// timestamp); used by the Deployment FSM to swap Live <-> Deprecated.
func (s *Store) UpdatePipelineConfigState(ctx context.Context, namespace, pipeline string, version int64, state models.PipelineConfigState, deprecated int64) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE pipeline_configs SET state = ?, deprecated = ?
		WHERE namespace = ? AND pipeline = ? AND version = ?
	`, string(state), epochStr(deprecated), namespace, pipeline, version)
	if err != nil {
		return gofererr.NewInternal("pipeline_config_update_state", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("pipeline_config", pipeline)
	}
	return tx.Commit()
}

// txSetLive enforces P1 (at most one Live version per pipeline) by running
// entirely inside a single immediate transaction: callers in package
// deployment use this instead of two separate UpdatePipelineConfigState calls.
func (s *Store) SwapLivePipelineConfig(ctx context.Context, namespace, pipeline string, startVersion, endVersion int64) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := epochStr(models.NowMilli())

	if _, err := tx.ExecContext(ctx, `
		UPDATE pipeline_configs SET state = ?, deprecated = ?
		WHERE namespace = ? AND pipeline = ? AND version = ?
	`, string(models.PipelineConfigStateDeprecated), now, namespace, pipeline, startVersion); err != nil {
		return gofererr.NewInternal("pipeline_config_swap_deprecate", err.Error(), "")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE pipeline_configs SET state = ? WHERE namespace = ? AND pipeline = ? AND version = ?
	`, string(models.PipelineConfigStateLive), namespace, pipeline, endVersion)
	if err != nil {
		return gofererr.NewInternal("pipeline_config_swap_live", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("pipeline_config", pipeline)
	}
	return tx.Commit()
}
