package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
)

const eventColumns = `id, pubkey, kind, d_tag, created_at, tags_json, content, sig`

// SaveEvents caches events. Replaceable events follow relay semantics: per
// (pubkey, kind, d tag) only the newest is kept, ties going to the smallest
// id. Returns how many events were written.
func SaveEvents(ctx context.Context, db *sql.DB, events []event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	saved := 0
	for _, ev := range events {
		ok, err := saveEvent(ctx, tx, ev, now)
		if err != nil {
			return 0, err
		}
		if ok {
			saved++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return saved, nil
}

func saveEvent(ctx context.Context, tx *sql.Tx, ev event.Event, now int64) (bool, error) {
	if ev.IsReplaceable() {
		var (
			existingID      string
			existingCreated int64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, created_at FROM events
			WHERE pubkey = ? AND kind = ? AND d_tag = ?
			ORDER BY created_at DESC, id ASC
			LIMIT 1
		`, ev.PubKey, ev.Kind, ev.Slot()).Scan(&existingID, &existingCreated)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return false, errors.NewInternal(err)
		default:
			if existingID == ev.ID {
				return false, nil
			}
			if existingCreated > ev.CreatedAt || (existingCreated == ev.CreatedAt && existingID < ev.ID) {
				return false, nil
			}
			if err := deleteSlot(ctx, tx, ev.PubKey, ev.Kind, ev.Slot()); err != nil {
				return false, err
			}
		}
	}

	tags := ev.Tags
	if tags == nil {
		tags = event.Tags{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (
			id, pubkey, kind, d_tag, created_at, tags_json, content, sig, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.PubKey, ev.Kind, ev.Slot(), ev.CreatedAt, string(tagsJSON), ev.Content, ev.Sig, now)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	for _, topic := range ev.Tags.FindAll("t") {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_topics (event_id, topic) VALUES (?, ?)`,
			ev.ID, topic,
		); err != nil {
			return false, errors.NewInternal(err)
		}
	}
	return true, nil
}

func deleteSlot(ctx context.Context, tx *sql.Tx, pubkey string, kind int, d string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM event_topics WHERE event_id IN (
			SELECT id FROM events WHERE pubkey = ? AND kind = ? AND d_tag = ?
		)
	`, pubkey, kind, d); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE pubkey = ? AND kind = ? AND d_tag = ?`,
		pubkey, kind, d,
	); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LoadEvents returns cached events matching filter, newest first. Ids,
// authors, kinds, the t tag and the time bounds are evaluated in SQL; any
// other tag condition and the limit are applied afterwards.
func LoadEvents(ctx context.Context, db *sql.DB, filter event.Filter) ([]event.Event, error) {
	var (
		where []string
		args  []any
	)
	addIn := func(column string, values []any) {
		where = append(where, column+" IN ("+placeholders(len(values))+")")
		args = append(args, values...)
	}

	if len(filter.IDs) > 0 {
		addIn("id", toAny(filter.IDs))
	}
	if len(filter.Authors) > 0 {
		addIn("pubkey", toAny(filter.Authors))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]any, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = k
		}
		addIn("kind", kinds)
	}
	if topics := filter.Tags["t"]; len(topics) > 0 {
		where = append(where, "id IN (SELECT event_id FROM event_topics WHERE topic IN ("+placeholders(len(topics))+"))")
		args = append(args, toAny(topics)...)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, *filter.Until)
	}

	query := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if !filter.Matches(*ev) {
			continue
		}
		out = append(out, *ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// DeleteEvents removes events by id. Returns how many were removed.
func DeleteEvents(ctx context.Context, db *sql.DB, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	defer tx.Rollback()

	in := placeholders(len(ids))
	if _, err := tx.ExecContext(ctx, "DELETE FROM event_topics WHERE event_id IN ("+in+")", toAny(ids)...); err != nil {
		return 0, errors.NewInternal(err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id IN ("+in+")", toAny(ids)...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// CountEvents returns the number of cached events.
func CountEvents(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*event.Event, error) {
	var (
		ev       event.Event
		dTag     string
		tagsJSON string
	)
	if err := row.Scan(&ev.ID, &ev.PubKey, &ev.Kind, &dTag, &ev.CreatedAt, &tagsJSON, &ev.Content, &ev.Sig); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ev.Tags); err != nil {
		return nil, err
	}
	return &ev, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
