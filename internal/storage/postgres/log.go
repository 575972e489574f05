package postgres

import (
	"context"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func (s *Store) AppendLogChunk(ctx context.Context, namespace, pipeline string, runID int64, taskID string, seq int64, kind string, data []byte) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO task_execution_logs (namespace, pipeline, run_id, task_id, seq, kind, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), namespace, pipeline, runID, taskID, seq, kind, data)
	if err != nil {
		return gofererr.NewInternal("log_append", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) ListLogChunks(ctx context.Context, namespace, pipeline string, runID int64, taskID string) ([]storage.LogChunk, error) {
	rows, err := s.query(ctx, `
		SELECT seq, kind, data FROM task_execution_logs
		WHERE namespace = ? AND pipeline = ? AND run_id = ? AND task_id = ?
		ORDER BY seq
	`, namespace, pipeline, runID, taskID)
	if err != nil {
		return nil, gofererr.NewInternal("log_list", err.Error(), "")
	}
	defer rows.Close()

	var out []storage.LogChunk
	for rows.Next() {
		var c storage.LogChunk
		if err := rows.Scan(&c.Seq, &c.Kind, &c.Data); err != nil {
			return nil, gofererr.NewInternal("log_list_scan", err.Error(), "")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteLogChunks(ctx context.Context, namespace, pipeline string, runID int64, taskID string) error {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		DELETE FROM task_execution_logs WHERE namespace = ? AND pipeline = ? AND run_id = ? AND task_id = ?
	`), namespace, pipeline, runID, taskID)
	if err != nil {
		return gofererr.NewInternal("log_delete", err.Error(), "")
	}
	return tx.Commit()
}
