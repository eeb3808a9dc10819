package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open creates a new database connection and ensures the schema is up
// to date. WAL mode keeps durable writes cheap enough for the
// persist-after-every-operation write pattern.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{conn: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// SaveSession inserts or fully replaces a session row.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *review.ReviewSession) error {
	items, err := json.Marshal(sess.Items)
	if err != nil {
		return wrap("marshal session items", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, mode, status, current_index, items, started_at, paused_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_index = excluded.current_index,
			items = excluded.items,
			paused_at = excluded.paused_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`,
		sess.ID,
		sess.UserID,
		sess.Mode,
		sess.Status.String(),
		sess.CurrentIndex,
		string(items),
		sess.StartedAt,
		nullTime(sess.PausedAt),
		nullTime(sess.EndedAt),
		sess.UpdatedAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("save session %s", sess.ID), err)
	}
	return nil
}

// UpdateSession applies a partial update; untouched columns keep their
// stored values.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, upd SessionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{upd.UpdatedAt}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, upd.Status.String())
	}
	if upd.CurrentIndex != nil {
		sets = append(sets, "current_index = ?")
		args = append(args, *upd.CurrentIndex)
	}
	if upd.Items != nil {
		items, err := json.Marshal(upd.Items)
		if err != nil {
			return wrap("marshal session items", err)
		}
		sets = append(sets, "items = ?")
		args = append(args, string(items))
	}
	if upd.PausedAt != nil {
		sets = append(sets, "paused_at = ?")
		args = append(args, *upd.PausedAt)
	} else if upd.ClearPaused {
		sets = append(sets, "paused_at = NULL")
	}
	if upd.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, *upd.EndedAt)
	}

	args = append(args, id)
	res, err := s.conn.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return wrap(fmt.Sprintf("update session %s", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", id, review.ErrNotFound)
	}
	return nil
}

const sessionColumns = "id, user_id, mode, status, current_index, items, started_at, paused_at, ended_at, updated_at"

func scanSession(row interface{ Scan(...any) error }) (*review.ReviewSession, error) {
	var (
		sess     review.ReviewSession
		status   string
		items    string
		pausedAt sql.NullTime
		endedAt  sql.NullTime
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Mode,
		&status,
		&sess.CurrentIndex,
		&items,
		&sess.StartedAt,
		&pausedAt,
		&endedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := sess.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &sess.Items); err != nil {
		return nil, err
	}
	if pausedAt.Valid {
		t := pausedAt.Time
		sess.PausedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*review.ReviewSession, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	if err != nil {
		return nil, wrap(fmt.Sprintf("get session %s", id), err)
	}
	return sess, nil
}

// DeleteSession removes a session and its statistics.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM statistics WHERE session_id = ?", id); err != nil {
		return wrap(fmt.Sprintf("delete statistics for %s", id), err)
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return wrap(fmt.Sprintf("delete session %s", id), err)
	}
	return nil
}

// ActiveSessionForUser returns the user's active or paused session, or
// (nil, nil) when there is none. This is the single-active-session
// check: it consults durable state, not process memory.
func (s *SQLiteStore) ActiveSessionForUser(ctx context.Context, userID string) (*review.ReviewSession, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = ? AND status IN ('active', 'paused') LIMIT 1",
		userID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(fmt.Sprintf("active session for %s", userID), err)
	}
	return sess, nil
}

// SessionsForUser returns all of the user's sessions, newest first.
func (s *SQLiteStore) SessionsForUser(ctx context.Context, userID string) ([]review.ReviewSession, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = ? ORDER BY started_at DESC", userID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("sessions for %s", userID), err)
	}
	defer rows.Close()

	var sessions []review.ReviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrap("scan session row", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SaveStatistics inserts or replaces the statistics row for a session.
func (s *SQLiteStore) SaveStatistics(ctx context.Context, st *review.SessionStatistics) error {
	buckets, err := json.Marshal(st.PerDifficulty)
	if err != nil {
		return wrap("marshal difficulty buckets", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO statistics (session_id, user_id, total_items, completed_items, correct_items,
			incorrect_items, skipped_items, accuracy, avg_response_ms, current_streak, best_streak,
			per_difficulty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			completed_items = excluded.completed_items,
			correct_items = excluded.correct_items,
			incorrect_items = excluded.incorrect_items,
			skipped_items = excluded.skipped_items,
			accuracy = excluded.accuracy,
			avg_response_ms = excluded.avg_response_ms,
			current_streak = excluded.current_streak,
			best_streak = excluded.best_streak,
			per_difficulty = excluded.per_difficulty,
			updated_at = excluded.updated_at
	`,
		st.SessionID, st.UserID, st.TotalItems, st.CompletedItems, st.CorrectItems,
		st.IncorrectItems, st.SkippedItems, st.Accuracy, st.AvgResponseMs, st.CurrentStreak,
		st.BestStreak, string(buckets), st.UpdatedAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("save statistics for %s", st.SessionID), err)
	}
	return nil
}

// GetStatistics retrieves the statistics for a session.
func (s *SQLiteStore) GetStatistics(ctx context.Context, sessionID string) (*review.SessionStatistics, error) {
	var (
		st      review.SessionStatistics
		buckets sql.NullString
	)
	row := s.conn.QueryRowContext(ctx, `
		SELECT session_id, user_id, total_items, completed_items, correct_items, incorrect_items,
			skipped_items, accuracy, avg_response_ms, current_streak, best_streak, per_difficulty, updated_at
		FROM statistics WHERE session_id = ?
	`, sessionID)
	err := row.Scan(
		&st.SessionID, &st.UserID, &st.TotalItems, &st.CompletedItems, &st.CorrectItems,
		&st.IncorrectItems, &st.SkippedItems, &st.Accuracy, &st.AvgResponseMs, &st.CurrentStreak,
		&st.BestStreak, &buckets, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("statistics for %s: %w", sessionID, review.ErrNotFound)
	}
	if err != nil {
		return nil, wrap(fmt.Sprintf("get statistics for %s", sessionID), err)
	}
	if buckets.Valid && buckets.String != "" && buckets.String != "null" {
		if err := json.Unmarshal([]byte(buckets.String), &st.PerDifficulty); err != nil {
			return nil, wrap("unmarshal difficulty buckets", err)
		}
	}
	return &st, nil
}

// SaveSRSData inserts or replaces scheduling state for a (user, item).
func (s *SQLiteStore) SaveSRSData(ctx context.Context, d review.SRSData) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO srs_data (user_id, item_id, interval, ease_factor, repetitions,
			last_reviewed_at, next_review_at, avg_response_ms, recent_results, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			interval = excluded.interval,
			ease_factor = excluded.ease_factor,
			repetitions = excluded.repetitions,
			last_reviewed_at = excluded.last_reviewed_at,
			next_review_at = excluded.next_review_at,
			avg_response_ms = excluded.avg_response_ms,
			recent_results = excluded.recent_results,
			updated_at = excluded.updated_at
	`,
		d.UserID, d.ItemID, d.Interval, d.EaseFactor, d.Repetitions,
		nullTime(d.LastReviewedAt), d.NextReviewAt, d.AvgResponseMs, d.RecentResults, d.UpdatedAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("save srs data for %s/%s", d.UserID, d.ItemID), err)
	}
	return nil
}

func scanSRSData(row interface{ Scan(...any) error }) (*review.SRSData, error) {
	var (
		d            review.SRSData
		lastReviewed sql.NullTime
	)
	err := row.Scan(
		&d.UserID, &d.ItemID, &d.Interval, &d.EaseFactor, &d.Repetitions,
		&lastReviewed, &d.NextReviewAt, &d.AvgResponseMs, &d.RecentResults, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastReviewed.Valid {
		t := lastReviewed.Time
		d.LastReviewedAt = &t
	}
	return &d, nil
}

const srsColumns = "user_id, item_id, interval, ease_factor, repetitions, last_reviewed_at, next_review_at, avg_response_ms, recent_results, updated_at"

// GetSRSData retrieves scheduling state for a (user, item) pair.
func (s *SQLiteStore) GetSRSData(ctx context.Context, userID, itemID string) (*review.SRSData, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+srsColumns+" FROM srs_data WHERE user_id = ? AND item_id = ?", userID, itemID)
	d, err := scanSRSData(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("srs data for %s/%s: %w", userID, itemID, review.ErrNotFound)
	}
	if err != nil {
		return nil, wrap(fmt.Sprintf("get srs data for %s/%s", userID, itemID), err)
	}
	return d, nil
}

// QueryDue returns the user's items due at or before the given time,
// soonest first.
func (s *SQLiteStore) QueryDue(ctx context.Context, userID string, before time.Time) ([]review.SRSData, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+srsColumns+" FROM srs_data WHERE user_id = ? AND next_review_at <= ? ORDER BY next_review_at",
		userID, before)
	if err != nil {
		return nil, wrap(fmt.Sprintf("query due for %s", userID), err)
	}
	defer rows.Close()

	var due []review.SRSData
	for rows.Next() {
		d, err := scanSRSData(rows)
		if err != nil {
			return nil, wrap("scan srs row", err)
		}
		due = append(due, *d)
	}
	return due, rows.Err()
}

// AppendReview appends one entry to the per-answer history log.
func (s *SQLiteStore) AppendReview(ctx context.Context, r review.ReviewRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, item_id, session_id, correct, quality, interval, ease_factor, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.UserID, r.ItemID, r.SessionID, r.Correct, r.Quality, r.Interval, r.EaseFactor, r.ReviewedAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("append review %s", r.ID), err)
	}
	return nil
}

// EnqueueMutation durably persists a pending mutation.
func (s *SQLiteStore) EnqueueMutation(ctx context.Context, m review.SyncMutation) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, type, action, entity_id, user_id, payload, attempts, last_error, next_retry_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, string(m.Type), string(m.Action), m.EntityID, m.UserID, string(m.Payload),
		m.Attempts, m.LastError, m.NextRetryAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("enqueue mutation %s", m.ID), err)
	}
	return nil
}

func scanMutations(rows *sql.Rows) ([]review.SyncMutation, error) {
	var out []review.SyncMutation
	for rows.Next() {
		var (
			m       review.SyncMutation
			payload string
		)
		if err := rows.Scan(&m.ID, (*string)(&m.Type), (*string)(&m.Action), &m.EntityID, &m.UserID,
			&payload, &m.Attempts, &m.LastError, &m.NextRetryAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Payload = json.RawMessage(payload)
		out = append(out, m)
	}
	return out, rows.Err()
}

const mutationColumns = "id, type, action, entity_id, user_id, payload, attempts, last_error, next_retry_at, created_at, updated_at"

// PendingMutations returns all queued mutations in insertion order.
func (s *SQLiteStore) PendingMutations(ctx context.Context) ([]review.SyncMutation, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+mutationColumns+" FROM sync_queue ORDER BY id")
	if err != nil {
		return nil, wrap("pending mutations", err)
	}
	defer rows.Close()

	out, err := scanMutations(rows)
	if err != nil {
		return nil, wrap("scan mutation row", err)
	}
	return out, nil
}

// UpdateMutation persists a mutation's retry bookkeeping.
func (s *SQLiteStore) UpdateMutation(ctx context.Context, m review.SyncMutation) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE sync_queue SET attempts = ?, last_error = ?, next_retry_at = ?, payload = ? WHERE id = ?
	`, m.Attempts, m.LastError, m.NextRetryAt, string(m.Payload), m.ID)
	if err != nil {
		return wrap(fmt.Sprintf("update mutation %s", m.ID), err)
	}
	return nil
}

// DeleteMutation removes a mutation after confirmed remote success.
func (s *SQLiteStore) DeleteMutation(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return wrap(fmt.Sprintf("delete mutation %s", id), err)
	}
	return nil
}

// MoveToDeadLetter moves a mutation from the queue to the dead-letter
// namespace in one transaction, so a crash cannot drop or duplicate it.
func (s *SQLiteStore) MoveToDeadLetter(ctx context.Context, id, reason string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin dead-letter move", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_dead_letters (id, type, action, entity_id, user_id, payload, attempts, last_error, next_retry_at, created_at, updated_at, dead_lettered_at)
		SELECT id, type, action, entity_id, user_id, payload, attempts, ?, next_retry_at, created_at, updated_at, ?
		FROM sync_queue WHERE id = ?
	`, reason, time.Now().UTC(), id)
	if err != nil {
		return wrap(fmt.Sprintf("dead-letter mutation %s", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dead-letter mutation %s: %w", id, review.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return wrap(fmt.Sprintf("remove dead-lettered mutation %s", id), err)
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit dead-letter move", err)
	}
	return nil
}

// DeadLetters returns all dead-lettered mutations in insertion order.
func (s *SQLiteStore) DeadLetters(ctx context.Context) ([]review.SyncMutation, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+mutationColumns+" FROM sync_dead_letters ORDER BY id")
	if err != nil {
		return nil, wrap("dead letters", err)
	}
	defer rows.Close()

	out, err := scanMutations(rows)
	if err != nil {
		return nil, wrap("scan dead letter row", err)
	}
	return out, nil
}

// QueueStatus reports pending and dead-lettered counts.
func (s *SQLiteStore) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var st QueueStatus
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&st.Pending); err != nil {
		return st, wrap("count pending", err)
	}
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_dead_letters").Scan(&st.DeadLettered); err != nil {
		return st, wrap("count dead letters", err)
	}
	st.Total = st.Pending + st.DeadLettered
	return st, nil
}

// Cleanup prunes terminal sessions, their statistics, and review
// history older than maxAgeDays. Active and paused sessions are never
// pruned.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)

	if _, err := s.conn.ExecContext(ctx, `
		DELETE FROM statistics WHERE session_id IN (
			SELECT id FROM sessions
			WHERE status IN ('completed', 'abandoned', 'error') AND updated_at < ?
		)
	`, cutoff); err != nil {
		return 0, wrap("cleanup statistics", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE status IN ('completed', 'abandoned', 'error') AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, wrap("cleanup sessions", err)
	}
	pruned, _ := res.RowsAffected()

	if _, err := s.conn.ExecContext(ctx, "DELETE FROM reviews WHERE reviewed_at < ?", cutoff); err != nil {
		return pruned, wrap("cleanup reviews", err)
	}
	return pruned, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
