package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/memri/memri-go/internal/item"
)

// ErrNotFound is returned for lookups of unknown uids.
var ErrNotFound = errors.New("store: not found")

// SaveItem upserts one item through the write queue.
func (s *Store) SaveItem(ctx context.Context, it *item.Item) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		return upsertItem(tx, it)
	})
}

// SaveItems upserts a batch of items in one transaction.
func (s *Store) SaveItems(ctx context.Context, items []*item.Item) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			if err := upsertItem(tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertItem(tx *sql.Tx, it *item.Item) error {
	props, err := json.Marshal(item.Map(it.Properties).ToJSON())
	if err != nil {
		return fmt.Errorf("encoding properties of %d: %w", it.UID, err)
	}
	changed := make([]string, 0, len(it.ChangedFields))
	for f := range it.ChangedFields {
		changed = append(changed, f)
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO items (uid, family, properties, version, deleted, starred, partial,
			date_created, date_modified, date_accessed, sync_action, changed_fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			family = excluded.family,
			properties = excluded.properties,
			version = excluded.version,
			deleted = excluded.deleted,
			starred = excluded.starred,
			partial = excluded.partial,
			date_modified = excluded.date_modified,
			date_accessed = excluded.date_accessed,
			sync_action = excluded.sync_action,
			changed_fields = excluded.changed_fields`,
		it.UID, string(it.Family), string(props), it.Version,
		boolInt(it.Deleted), boolInt(it.Starred), boolInt(it.Partial),
		it.DateCreated.UnixMilli(), it.DateModified.UnixMilli(), it.DateAccessed.UnixMilli(),
		string(it.SyncAction), string(changedJSON))
	return err
}

// LoadItem reads one item by uid.
func (s *Store) LoadItem(ctx context.Context, uid int64) (*item.Item, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+" WHERE uid = ?", uid)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", uid, ErrNotFound)
	}
	return it, err
}

// LoadItems reads all items, optionally restricted to one family.
// Soft-deleted items are included; the cache decides visibility.
func (s *Store) LoadItems(ctx context.Context, family string) ([]*item.Item, error) {
	q := itemSelect
	var args []any
	if family != "" {
		q += " WHERE family = ?"
		args = append(args, family)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	defer rows.Close()

	var out []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const itemSelect = `
	SELECT uid, family, properties, version, deleted, starred, partial,
		date_created, date_modified, date_accessed, sync_action, changed_fields
	FROM items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*item.Item, error) {
	var (
		it                             item.Item
		family, props, action, changed string
		deleted, starred, partial      int
		created, modified, accessed    int64
	)
	err := row.Scan(&it.UID, &family, &props, &it.Version, &deleted, &starred, &partial,
		&created, &modified, &accessed, &action, &changed)
	if err != nil {
		return nil, err
	}

	it.Family = item.Family(family)
	it.Deleted = deleted != 0
	it.Starred = starred != 0
	it.Partial = partial != 0
	it.DateCreated = time.UnixMilli(created)
	it.DateModified = time.UnixMilli(modified)
	it.DateAccessed = time.UnixMilli(accessed)
	it.SyncAction = item.SyncAction(action)

	var rawProps map[string]any
	if err := json.Unmarshal([]byte(props), &rawProps); err != nil {
		return nil, fmt.Errorf("decoding properties of %d: %w", it.UID, err)
	}
	it.Properties = make(map[string]item.Value, len(rawProps))
	for k, v := range rawProps {
		it.Properties[k] = item.FromJSON(v)
	}

	var changedList []string
	if err := json.Unmarshal([]byte(changed), &changedList); err != nil {
		return nil, fmt.Errorf("decoding changed fields of %d: %w", it.UID, err)
	}
	it.ChangedFields = make(map[string]bool, len(changedList))
	for _, f := range changedList {
		it.ChangedFields[f] = true
	}
	return &it, nil
}

// LastUID reads the persisted uid counter, zero when never written.
func (s *Store) LastUID(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_uid FROM counters WHERE name = 'uid'`).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return last, err
}

// SetLastUID persists the uid counter.
func (s *Store) SetLastUID(ctx context.Context, uid int64) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO counters (name, last_uid) VALUES ('uid', ?)
			ON CONFLICT (name) DO UPDATE SET last_uid = excluded.last_uid`, uid)
		return err
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
