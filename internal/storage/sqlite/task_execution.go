package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

const taskExecutionColumns = `namespace, pipeline, run_id, task_id, created, started, ended, exit_code, logs_expired, logs_removed, state, status, status_reason, variables, task`

func scanTaskExecution(row interface{ Scan(dest ...any) error }) (*models.TaskExecution, error) {
	var t models.TaskExecution
	var created, started, ended, state, status, statusReason, variables, task string
	var exitCode sql.NullInt64
	var logsExpired, logsRemoved int64
	if err := row.Scan(&t.Namespace, &t.Pipeline, &t.RunID, &t.TaskID, &created, &started, &ended,
		&exitCode, &logsExpired, &logsRemoved, &state, &status, &statusReason, &variables, &task); err != nil {
		return nil, err
	}
	t.Created = parseEpoch(created)
	t.Started = parseEpoch(started)
	t.Ended = parseEpoch(ended)
	if exitCode.Valid {
		t.ExitCode = models.Ptr(exitCode.Int64)
	}
	t.LogsExpired = intToBool(logsExpired)
	t.LogsRemoved = intToBool(logsRemoved)
	t.State = models.TaskExecutionState(state)
	t.Status = models.TaskExecutionStatus(status)

	if statusReason != "" && statusReason != "{}" {
		var reason models.TaskExecutionStatusReason
		if err := json.Unmarshal([]byte(statusReason), &reason); err != nil {
			return nil, err
		}
		t.StatusReason = &reason
	}
	if err := json.Unmarshal([]byte(variables), &t.Variables); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(task), &t.Task); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) InsertTaskExecution(ctx context.Context, t *models.TaskExecution) error {
	variablesJSON, err := json.Marshal(t.Variables)
	if err != nil {
		return gofererr.NewInternal("task_execution_marshal_variables", err.Error(), "")
	}
	taskJSON, err := json.Marshal(t.Task)
	if err != nil {
		return gofererr.NewInternal("task_execution_marshal_task", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_executions
			(namespace, pipeline, run_id, task_id, created, started, ended, exit_code, logs_expired, logs_removed, state, status, status_reason, variables, task)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Namespace, t.Pipeline, t.RunID, t.TaskID, epochStr(t.Created), epochStr(t.Started), epochStr(t.Ended),
		nullableExitCode(t.ExitCode), boolToInt(t.LogsExpired), boolToInt(t.LogsRemoved),
		string(t.State), string(t.Status), t.StatusReason.ToJSON(), string(variablesJSON), string(taskJSON))
	if err != nil {
		if isUniqueConstraint(err) {
			return gofererr.NewExists("task_execution", t.TaskID)
		}
		return gofererr.NewInternal("task_execution_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) GetTaskExecution(ctx context.Context, namespace, pipeline string, runID int64, taskID string) (*models.TaskExecution, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT `+taskExecutionColumns+` FROM task_executions
		WHERE namespace = ? AND pipeline = ? AND run_id = ? AND task_id = ?
	`, namespace, pipeline, runID, taskID)
	t, err := scanTaskExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gofererr.NewNotFound("task_execution", taskID)
		}
		return nil, gofererr.NewInternal("task_execution_get", err.Error(), "")
	}
	return t, nil
}

func (s *Store) ListTaskExecutions(ctx context.Context, namespace, pipeline string, runID int64) ([]*models.TaskExecution, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+taskExecutionColumns+` FROM task_executions
		WHERE namespace = ? AND pipeline = ? AND run_id = ? ORDER BY task_id
	`, namespace, pipeline, runID)
	if err != nil {
		return nil, gofererr.NewInternal("task_execution_list", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.TaskExecution
	for rows.Next() {
		t, err := scanTaskExecution(rows)
		if err != nil {
			return nil, gofererr.NewInternal("task_execution_list_scan", err.Error(), "")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListNonTerminalTaskExecutions(ctx context.Context) ([]*models.TaskExecution, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT `+taskExecutionColumns+` FROM task_executions WHERE state != ?
	`, string(models.TaskExecutionStateComplete))
	if err != nil {
		return nil, gofererr.NewInternal("task_execution_list_nonterminal", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.TaskExecution
	for rows.Next() {
		t, err := scanTaskExecution(rows)
		if err != nil {
			return nil, gofererr.NewInternal("task_execution_list_nonterminal_scan", err.Error(), "")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTaskExecution(ctx context.Context, t *models.TaskExecution) error {
	variablesJSON, err := json.Marshal(t.Variables)
	if err != nil {
		return gofererr.NewInternal("task_execution_marshal_variables", err.Error(), "")
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE task_executions SET started = ?, ended = ?, exit_code = ?, logs_expired = ?, logs_removed = ?,
			state = ?, status = ?, status_reason = ?, variables = ?
		WHERE namespace = ? AND pipeline = ? AND run_id = ? AND task_id = ?
	`, epochStr(t.Started), epochStr(t.Ended), nullableExitCode(t.ExitCode), boolToInt(t.LogsExpired), boolToInt(t.LogsRemoved),
		string(t.State), string(t.Status), t.StatusReason.ToJSON(), string(variablesJSON),
		t.Namespace, t.Pipeline, t.RunID, t.TaskID)
	if err != nil {
		return gofererr.NewInternal("task_execution_update", err.Error(), "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gofererr.NewNotFound("task_execution", t.TaskID)
	}
	return tx.Commit()
}

func nullableExitCode(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
