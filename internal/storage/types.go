package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	ActorID   int64
	ActorName string
	Action    string
	Target    string
	OK        int
	Fail      int
	Error     string
	MetaJSON  string
}

// ApprovalRecord is one pending-approval row. The draft payload is stored
// as JSON text so the schema survives draft shape changes.
type ApprovalRecord struct {
	ID          string
	Kind        string // "broadcast" | "signal"
	DraftJSON   string
	Segment     string
	CreatedBy   int64
	CreatorName string
	Status      string // pending | approved | rejected
	CreatedAt   time.Time
	ReviewedBy  int64
	ReviewedAt  time.Time
	Reason      string
}

// ScheduleRecord is one scheduled-broadcast row. Rows are never deleted,
// only status-flagged.
type ScheduleRecord struct {
	ID         string
	DraftJSON  string
	Segment    string
	DispatchAt time.Time
	Recurrence string // once | daily | weekly | monthly
	CreatedBy  int64
	Status     string // pending | completed | cancelled
	CreatedAt  time.Time
}

// UserRecord is one directory row.
type UserRecord struct {
	ID        int64
	Username  string
	Name      string
	FirstSeen time.Time
}
