package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "broadcastbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- directory ----

func (s *sqliteStore) UpsertUser(ctx context.Context, u UserRecord) error {
	if u.FirstSeen.IsZero() {
		u.FirstSeen = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, name, first_seen) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username, name=excluded.name`,
		u.ID, nullStr(u.Username), nullStr(u.Name), u.FirstSeen.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT id FROM users ORDER BY id`)
}

func (s *sqliteStore) ListSubscriberIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT user_id FROM subscriptions ORDER BY user_id`)
}

func (s *sqliteStore) listIDs(ctx context.Context, q string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) SetSubscribed(ctx context.Context, id int64, on bool) error {
	if on {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO subscriptions(user_id) VALUES(?) ON CONFLICT(user_id) DO NOTHING`, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, id)
	return err
}

func (s *sqliteStore) IsSubscribed(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscriptions WHERE user_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) SetOptOut(ctx context.Context, id int64, kind string, on bool) error {
	if on {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO optouts(user_id, kind) VALUES(?,?) ON CONFLICT(user_id, kind) DO NOTHING`, id, kind)
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM optouts WHERE user_id = ? AND kind = ?`, id, kind)
	return err
}

func (s *sqliteStore) IsOptedOut(ctx context.Context, id int64, kind string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM optouts WHERE user_id = ? AND kind = ?`, id, kind).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) PruneUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM optouts WHERE user_id = ?`,
		`DELETE FROM subscriptions WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) CountUsers(ctx context.Context) (int, int, error) {
	var total, subs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&subs); err != nil {
		return 0, 0, err
	}
	return total, subs, nil
}

// ---- approvals ----

func (s *sqliteStore) InsertApproval(ctx context.Context, r ApprovalRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals(id, kind, draft, segment, created_by, creator_name, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Kind, r.DraftJSON, r.Segment, r.CreatedBy, nullStr(r.CreatorName),
		r.Status, r.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetApproval(ctx context.Context, id string) (ApprovalRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, draft, segment, created_by, creator_name, status, created_at, reviewed_by, reviewed_at, reason
		 FROM approvals WHERE id = ?`, id)
	return scanApproval(row)
}

func (s *sqliteStore) ListPendingApprovals(ctx context.Context) ([]ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, draft, segment, created_by, creator_name, status, created_at, reviewed_by, reviewed_at, reason
		 FROM approvals WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalRecord
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (ApprovalRecord, error) {
	var (
		r                      ApprovalRecord
		createdMS              int64
		reviewedBy, reviewedMS sql.NullInt64
		creatorName, rsn       sql.NullString
	)
	err := row.Scan(&r.ID, &r.Kind, &r.DraftJSON, &r.Segment, &r.CreatedBy, &creatorName,
		&r.Status, &createdMS, &reviewedBy, &reviewedMS, &rsn)
	if errors.Is(err, sql.ErrNoRows) {
		return ApprovalRecord{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRecord{}, err
	}
	r.CreatorName = creatorName.String
	r.CreatedAt = time.UnixMilli(createdMS)
	r.ReviewedBy = reviewedBy.Int64
	if reviewedMS.Valid {
		r.ReviewedAt = time.UnixMilli(reviewedMS.Int64)
	}
	r.Reason = rsn.String
	return r, nil
}

func (s *sqliteStore) UpdateApprovalStatus(ctx context.Context, id, status string, reviewer int64, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status=?, reviewed_by=?, reviewed_at=?, reason=? WHERE id=?`,
		status, reviewer, at.UnixMilli(), nullStr(reason), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---- schedules ----

func (s *sqliteStore) InsertSchedule(ctx context.Context, r ScheduleRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, draft, segment, dispatch_at, recurrence, created_by, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.DraftJSON, r.Segment, r.DispatchAt.UnixMilli(), r.Recurrence,
		r.CreatedBy, r.Status, r.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (ScheduleRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, draft, segment, dispatch_at, recurrence, created_by, status, created_at
		 FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

func (s *sqliteStore) ListDueSchedules(ctx context.Context, now time.Time) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, draft, segment, dispatch_at, recurrence, created_by, status, created_at
		 FROM schedules WHERE status = 'pending' AND dispatch_at <= ? ORDER BY dispatch_at ASC`,
		now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		r, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (ScheduleRecord, error) {
	var (
		r                     ScheduleRecord
		dispatchMS, createdMS int64
	)
	err := row.Scan(&r.ID, &r.DraftJSON, &r.Segment, &dispatchMS, &r.Recurrence,
		&r.CreatedBy, &r.Status, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleRecord{}, ErrNotFound
	}
	if err != nil {
		return ScheduleRecord{}, err
	}
	r.DispatchAt = time.UnixMilli(dispatchMS)
	r.CreatedAt = time.UnixMilli(createdMS)
	return r, nil
}

func (s *sqliteStore) RearmSchedule(ctx context.Context, id string, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET dispatch_at = ? WHERE id = ?`, next.UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *sqliteStore) UpdateScheduleStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_name, action, target, ok, fail, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.ActorID, nullStr(e.ActorName),
		e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) LastAuditAt(ctx context.Context, actorID int64, actions []string) (time.Time, bool, error) {
	if len(actions) == 0 {
		return time.Time{}, false, nil
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(actions)), ",")
	args := make([]any, 0, len(actions)+1)
	args = append(args, actorID)
	for _, a := range actions {
		args = append(args, a)
	}
	var atMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT at FROM audit WHERE actor_id = ? AND action IN (`+ph+`) ORDER BY at DESC LIMIT 1`,
		args...).Scan(&atMS)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(atMS), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
