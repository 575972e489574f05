package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func (s *Store) InsertEvent(ctx context.Context, e *models.Event) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return gofererr.NewInternal("event_marshal_payload", err.Error(), "")
	}

	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO events (id, kind, payload, emitted) VALUES (?, ?, ?, ?)
	`), e.ID, string(e.Kind), string(payloadJSON), epochStr(e.Emitted))
	if err != nil {
		return gofererr.NewInternal("event_insert", err.Error(), "")
	}
	return tx.Commit()
}

func (s *Store) ListEventsFrom(ctx context.Context, startFrom string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if startFrom == "" {
		rows, err = s.query(ctx, `SELECT id, kind, payload, emitted FROM events ORDER BY id LIMIT ?`, limit)
	} else {
		rows, err = s.query(ctx, `SELECT id, kind, payload, emitted FROM events WHERE id >= ? ORDER BY id LIMIT ?`, startFrom, limit)
	}
	if err != nil {
		return nil, gofererr.NewInternal("event_list_from", err.Error(), "")
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var id, kind, payload, emitted string
		if err := rows.Scan(&id, &kind, &payload, &emitted); err != nil {
			return nil, gofererr.NewInternal("event_list_from_scan", err.Error(), "")
		}
		var payloadMap map[string]any
		if err := json.Unmarshal([]byte(payload), &payloadMap); err != nil {
			return nil, gofererr.NewInternal("event_list_from_unmarshal", err.Error(), "")
		}
		out = append(out, &models.Event{
			ID:      id,
			Kind:    models.EventKind(kind),
			Payload: payloadMap,
			Emitted: parseEpoch(emitted),
		})
	}
	return out, rows.Err()
}

func (s *Store) DeletePrunableEvents(ctx context.Context, olderThan int64, pageSize int) (int, error) {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE emitted < ? ORDER BY emitted LIMIT ?
		)
	`), epochStr(olderThan), pageSize)
	if err != nil {
		return 0, gofererr.NewInternal("event_prune", err.Error(), "")
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, gofererr.NewInternal("event_prune_commit", err.Error(), "")
	}
	return int(n), nil
}
