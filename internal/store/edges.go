package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/memri/memri-go/internal/item"
)

// SaveEdge upserts one edge through the write queue.
func (s *Store) SaveEdge(ctx context.Context, e *item.Edge) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		return upsertEdge(tx, e)
	})
}

// SaveEdges upserts a batch of edges in one transaction.
func (s *Store) SaveEdges(ctx context.Context, edges []*item.Edge) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		for _, e := range edges {
			if err := upsertEdge(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertEdge(tx *sql.Tx, e *item.Edge) error {
	_, err := tx.Exec(`
		INSERT INTO edges (source_uid, target_uid, type, source_family, target_family,
			label, sequence, version, deleted, date_created, date_modified, sync_action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_uid, target_uid, type) DO UPDATE SET
			label = excluded.label,
			sequence = excluded.sequence,
			version = excluded.version,
			deleted = excluded.deleted,
			date_modified = excluded.date_modified,
			sync_action = excluded.sync_action`,
		e.SourceUID, e.TargetUID, e.Type, e.SourceFamily, e.TargetFamily,
		e.Label, e.Sequence, e.Version, boolInt(e.Deleted),
		e.DateCreated.UnixMilli(), e.DateModified.UnixMilli(), string(e.SyncAction))
	return err
}

// LoadEdges reads all edges. Soft-deleted edges are included.
func (s *Store) LoadEdges(ctx context.Context) ([]*item.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_uid, target_uid, type, source_family, target_family,
			label, sequence, version, deleted, date_created, date_modified, sync_action
		FROM edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*item.Edge
	for rows.Next() {
		var (
			e                 item.Edge
			deleted           int
			created, modified int64
			action            string
		)
		err := rows.Scan(&e.SourceUID, &e.TargetUID, &e.Type, &e.SourceFamily, &e.TargetFamily,
			&e.Label, &e.Sequence, &e.Version, &deleted, &created, &modified, &action)
		if err != nil {
			return nil, err
		}
		e.Deleted = deleted != 0
		e.DateCreated = time.UnixMilli(created)
		e.DateModified = time.UnixMilli(modified)
		e.SyncAction = item.SyncAction(action)
		out = append(out, &e)
	}
	return out, rows.Err()
}
