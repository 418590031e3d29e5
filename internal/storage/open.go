package storage

import (
	"context"
	"time"

	logx "broadcastbot/pkg/logx"
)

// Store is the persistence API used by the directory and broadcast services.
type Store interface {
	// Directory.
	UpsertUser(ctx context.Context, u UserRecord) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	ListSubscriberIDs(ctx context.Context) ([]int64, error)
	SetSubscribed(ctx context.Context, id int64, on bool) error
	IsSubscribed(ctx context.Context, id int64) (bool, error)
	SetOptOut(ctx context.Context, id int64, kind string, on bool) error
	IsOptedOut(ctx context.Context, id int64, kind string) (bool, error)
	// PruneUser removes the user together with subscription and opt-out rows.
	PruneUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (total, subscribers int, err error)

	// Approvals.
	InsertApproval(ctx context.Context, r ApprovalRecord) error
	GetApproval(ctx context.Context, id string) (ApprovalRecord, error)
	ListPendingApprovals(ctx context.Context) ([]ApprovalRecord, error)
	UpdateApprovalStatus(ctx context.Context, id, status string, reviewer int64, reason string, at time.Time) error

	// Schedules.
	InsertSchedule(ctx context.Context, r ScheduleRecord) error
	GetSchedule(ctx context.Context, id string) (ScheduleRecord, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]ScheduleRecord, error)
	RearmSchedule(ctx context.Context, id string, next time.Time) error
	UpdateScheduleStatus(ctx context.Context, id, status string) error

	// Audit.
	AppendAudit(ctx context.Context, e AuditEntry) error
	LastAuditAt(ctx context.Context, actorID int64, actions []string) (time.Time, bool, error)

	Close() error
}

// Open initializes the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
