package executor

import (
	"context"
	"database/sql"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teranos/tempo/db"
	"github.com/teranos/tempo/errors"
)

// SQLiteJournal stores msgpack-encoded events and snapshots in the
// executor_journal and executor_snapshots tables.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteJournal(conn *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: conn, now: time.Now}
}

func (j *SQLiteJournal) Append(ctx context.Context, entityID string, ev Event) (int64, error) {
	payload, err := msgpack.Marshal(&ev)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode journal event")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin journal transaction")
	}
	defer tx.Rollback()

	// sequence numbers continue from the snapshot when the log was truncated
	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM executor_journal WHERE entity_id = ?), 0),
			COALESCE((SELECT seq FROM executor_snapshots WHERE entity_id = ?), 0)
		) + 1`, entityID, entityID).Scan(&seq)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to allocate journal sequence for %s", entityID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executor_journal (entity_id, seq, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		entityID, seq, payload, db.FormatTime(j.now()))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to append journal event for %s", entityID)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit journal event")
	}
	return seq, nil
}

func (j *SQLiteJournal) Snapshot(ctx context.Context, entityID string, st State) error {
	payload, err := msgpack.Marshal(&st)
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executor_snapshots (entity_id, seq, payload, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			seq = excluded.seq,
			payload = excluded.payload,
			recorded_at = excluded.recorded_at
	`, entityID, st.Seq, payload, db.FormatTime(j.now()))
	if err != nil {
		return errors.Wrapf(err, "failed to store snapshot for %s", entityID)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM executor_journal WHERE entity_id = ? AND seq <= ?`, entityID, st.Seq)
	if err != nil {
		return errors.Wrapf(err, "failed to truncate journal for %s", entityID)
	}
	return errors.Wrap(tx.Commit(), "failed to commit snapshot")
}

func (j *SQLiteJournal) Load(ctx context.Context, entityID string) (State, error) {
	var st State

	var payload []byte
	err := j.db.QueryRowContext(ctx,
		`SELECT payload FROM executor_snapshots WHERE entity_id = ?`, entityID).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return State{}, errors.Wrapf(err, "failed to load snapshot for %s", entityID)
	default:
		if err := msgpack.Unmarshal(payload, &st); err != nil {
			return State{}, errors.Wrapf(err, "failed to decode snapshot for %s", entityID)
		}
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, payload FROM executor_journal WHERE entity_id = ? AND seq > ? ORDER BY seq`,
		entityID, st.Seq)
	if err != nil {
		return State{}, errors.Wrapf(err, "failed to load journal for %s", entityID)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq, &payload); err != nil {
			return State{}, errors.Wrap(err, "failed to scan journal event")
		}
		var ev Event
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return State{}, errors.Wrapf(err, "failed to decode journal event %d for %s", seq, entityID)
		}
		st = st.Apply(seq, ev)
	}
	if err := rows.Err(); err != nil {
		return State{}, errors.Wrap(err, "failed to iterate journal")
	}
	return st, nil
}

func (j *SQLiteJournal) Delete(ctx context.Context, entityID string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin journal delete")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM executor_journal WHERE entity_id = ?`, entityID); err != nil {
		return errors.Wrapf(err, "failed to delete journal for %s", entityID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM executor_snapshots WHERE entity_id = ?`, entityID); err != nil {
		return errors.Wrapf(err, "failed to delete snapshot for %s", entityID)
	}
	return errors.Wrap(tx.Commit(), "failed to commit journal delete")
}

var (
	_ Journal = (*SQLiteJournal)(nil)
	_ Journal = (*MemoryJournal)(nil)
)
