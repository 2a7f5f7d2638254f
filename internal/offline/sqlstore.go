package offline

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLStore persists progress and the offline queue in the agent's local
// database. Queue entries outlive process restarts, which is the whole
// point: a submission made mid-ocean must still be there when the link
// comes back days later.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) SaveProgress(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_progress (phase, answers_json, current_index, session_id, saved_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (phase) DO UPDATE SET
		   answers_json=EXCLUDED.answers_json,
		   current_index=EXCLUDED.current_index,
		   session_id=EXCLUDED.session_id,
		   saved_at=EXCLUDED.saved_at`,
		snap.Phase, string(snap.Answers), snap.CurrentIndex, snap.SessionID, snap.SavedAt.Unix())
	return err
}

func (s *SQLStore) GetProgress(ctx context.Context, phase int) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT phase, answers_json, current_index, session_id, saved_at
		 FROM quiz_progress WHERE phase=$1`, phase)
	var snap Snapshot
	var answers string
	var savedAt int64
	if err := row.Scan(&snap.Phase, &answers, &snap.CurrentIndex, &snap.SessionID, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	snap.Answers = []byte(answers)
	snap.SavedAt = time.Unix(savedAt, 0)
	return snap, true, nil
}

func (s *SQLStore) MarkCompleted(ctx context.Context, e QueueEntry) error {
	if e.State == "" {
		e.State = StateQueued
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO offline_queue (id, phase, answers_json, score, session_id, completed_at, state, last_error, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8)`,
		e.ID, e.Phase, string(e.Answers), e.Score, e.SessionID, e.CompletedAt.Unix(), string(e.State), time.Now().Unix()); err != nil {
		return err
	}
	// Same transaction: the in-progress record must not survive the
	// handoff, or a restart could restore and resubmit the attempt.
	if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_progress WHERE phase=$1`, e.Phase); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Clear(ctx context.Context, phase int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM quiz_progress WHERE phase=$1`, phase)
	return err
}

func (s *SQLStore) PendingEntries(ctx context.Context) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phase, answers_json, score, session_id, completed_at, state, last_error
		 FROM offline_queue WHERE state IN ('queued','eligible') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var answers, state string
		var completedAt int64
		var score sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.Phase, &answers, &score, &e.SessionID, &completedAt, &state, &e.LastError); err != nil {
			return nil, err
		}
		e.Answers = []byte(answers)
		e.CompletedAt = time.Unix(completedAt, 0)
		e.State = QueueState(state)
		if score.Valid {
			v := score.Float64
			e.Score = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkEligible(ctx context.Context, ids []string) error {
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE offline_queue SET state='eligible' WHERE id=$1 AND state='queued'`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Already eligible or terminal; not an error, the daemon
			// may have raced us.
			continue
		}
	}
	return nil
}

func (s *SQLStore) MarkSynced(ctx context.Context, id string, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offline_queue SET state='synced', score=$1 WHERE id=$2`, score, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *SQLStore) MarkConflict(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offline_queue SET state='conflict', last_error=$1 WHERE id=$2`, reason, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}
