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

const runColumns = `namespace, pipeline, run_id, pipeline_config_version, started, ended, state, status, status_reason, initiator, variables, token_id, store_objects_expired`

func scanRun(row interface{ Scan(dest ...any) error }) (*models.Run, error) {
	var r models.Run
	var started, ended, state, status, statusReason, initiator, variables string
	var storeObjectsExpired int64
	if err := row.Scan(&r.Namespace, &r.Pipeline, &r.RunID, &r.PipelineConfigVersion,
		&started, &ended, &state, &status, &statusReason, &initiator, &variables, &r.TokenID, &storeObjectsExpired); err != nil {
		return nil, err
	}
	r.Started = parseEpoch(started)
	r.Ended = parseEpoch(ended)
	r.State = models.RunState(state)
	r.Status = models.RunStatus(status)
	r.StoreObjectsExpired = intToBool(storeObjectsExpired)

	if statusReason != "" && statusReason != "{}" {
		var reason models.RunStatusReason
		if err := json.Unmarshal([]byte(statusReason), &reason); err != nil {
			return nil, err
		}
		r.StatusReason = &reason
	}
	if err := json.Unmarshal([]byte(initiator), &r.Initiator); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variables), &r.Variables); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) InsertRun(ctx context.Context, r *models.Run) error {
	initiatorJSON, err := json.Marshal(r.Initiator)
	if err != nil {
		return gofererr.NewInternal("run_marshal_initiator", err.Error(), "")
	}
	variablesJSON, err := json.Marshal(r.Variables)
	if err != nil {
		return gofererr.NewInternal("run_marshal_variables", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (namespace, pipeline, run_id, pipeline_config_version, started, ended, state, status, status_reason, initiator, variables, token_id, store_objects_expired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Namespace, r.Pipeline, r.RunID, r.PipelineConfigVersion, epochStr(r.Started), epochStr(r.Ended),
		string(r.State), string(r.Status), r.StatusReason.ToJSON(), string(initiatorJSON), string(variablesJSON),
		r.TokenID, boolToInt(r.StoreObjectsExpired))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("run", r.Pipeline)
		}
		return gofererr.NewInternal("run_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) GetRun(ctx context.Context, namespace, pipeline string, runID int64) (*models.Run, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE namespace = ? AND pipeline = ? AND run_id = ?
	`, namespace, pipeline, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("run", pipeline)
		}
		return nil, gofererr.NewInternal("run_get", err.Error(), "")
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, namespace, pipeline string, opts storage.ListOptions) ([]*models.Run, error) {
	opts = opts.Normalize()
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE namespace = ? AND pipeline = ? ORDER BY run_id DESC LIMIT ? OFFSET ?
	`, namespace, pipeline, opts.Limit, opts.Offset)
	if err != nil {
		return nil, gofererr.NewInternal("run_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, gofererr.NewInternal("run_list_scan", err.Error(), "")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListNonTerminalRuns(ctx context.Context, namespace, pipeline string) ([]*models.Run, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE namespace = ? AND pipeline = ? AND state != ?
	`, namespace, pipeline, string(models.RunStateComplete))
	if err != nil {
		return nil, gofererr.NewInternal("run_list_nonterminal", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, gofererr.NewInternal("run_list_nonterminal_scan", err.Error(), "")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MaxRunID(ctx context.Context, namespace, pipeline string) (int64, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(run_id), 0) FROM runs WHERE namespace = ? AND pipeline = ?
	`, namespace, pipeline)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, gofererr.NewInternal("run_max_id", err.Error(), "")
	}
	return max, nil
}

func (s *Store) UpdateRun(ctx context.Context, r *models.Run) error {
	variablesJSON, err := json.Marshal(r.Variables)
	if err != nil {
		return gofererr.NewInternal("run_marshal_variables", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET started = ?, ended = ?, state = ?, status = ?, status_reason = ?, variables = ?, token_id = ?, store_objects_expired = ?
		WHERE namespace = ? AND pipeline = ? AND run_id = ?
	`, epochStr(r.Started), epochStr(r.Ended), string(r.State), string(r.Status), r.StatusReason.ToJSON(),
		string(variablesJSON), r.TokenID, boolToInt(r.StoreObjectsExpired), r.Namespace, r.Pipeline, r.RunID)
	if err != nil {
		return gofererr.NewInternal("run_update", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("run", r.Pipeline)
	}
	return tx.Commit()
}

// AllocateAndInsertRun reads max(run_id)+1 and inserts the Run build(nextID)
// produces within a single immediate transaction, so id allocation and
// insertion share one lock: no two concurrent start_run calls for the same
// pipeline can observe the same nextID (run ids are gap-free).
func (s *Store) AllocateAndInsertRun(ctx context.Context, namespace, pipeline string, build func(nextID int64) *models.Run) (*models.Run, error) {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(run_id), 0) FROM runs WHERE namespace = ? AND pipeline = ?`,
		namespace, pipeline)
	var max int64
	if err := row.Scan(&max); err != nil {
		return nil, gofererr.NewInternal("run_allocate_max", err.Error(), "")
	}

	r := build(max + 1)

	initiatorJSON, err := json.Marshal(r.Initiator)
	if err != nil {
		return nil, gofererr.NewInternal("run_marshal_initiator", err.Error(), "")
	}
	variablesJSON, err := json.Marshal(r.Variables)
	if err != nil {
		return nil, gofererr.NewInternal("run_marshal_variables", err.Error(), "")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (namespace, pipeline, run_id, pipeline_config_version, started, ended, state, status, status_reason, initiator, variables, token_id, store_objects_expired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Namespace, r.Pipeline, r.RunID, r.PipelineConfigVersion, epochStr(r.Started), epochStr(r.Ended),
		string(r.State), string(r.Status), r.StatusReason.ToJSON(), string(initiatorJSON), string(variablesJSON),
		r.TokenID, boolToInt(r.StoreObjectsExpired))
	if err != nil {
		return nil, gofererr.NewInternal("run_allocate_insert", err.Error(), "")
	}

	if err := tx.Commit(); err != nil {
		return nil, gofererr.NewInternal("run_allocate_commit", err.Error(), "")
	}
	return r, nil
}
