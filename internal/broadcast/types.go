package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kit "broadcastbot/internal/transport"
)

// ContentKind tags what a draft carries. Exactly one kind per draft.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentVideo    ContentKind = "video"
	ContentDocument ContentKind = "document"
)

// DraftMessage is a finalized broadcast payload. Built incrementally by the
// composer; treated as immutable once submitted.
type DraftMessage struct {
	Kind ContentKind `json:"kind"`

	// Text is the message body for ContentText, the caption otherwise.
	Text string `json:"text,omitempty"`

	// MediaRef is the platform file id for media kinds. WatermarkedJPEG,
	// when set, carries re-encoded photo bytes and takes precedence.
	MediaRef        string `json:"media_ref,omitempty"`
	WatermarkedJPEG []byte `json:"watermarked_jpeg,omitempty"`

	Buttons []kit.Button `json:"buttons,omitempty"`
	Protect bool         `json:"protect,omitempty"`
}

// Validate checks the one-kind-one-payload invariant.
func (d DraftMessage) Validate() error {
	switch d.Kind {
	case ContentText:
		if strings.TrimSpace(d.Text) == "" {
			return errors.New("text draft requires a body")
		}
		if d.MediaRef != "" || len(d.WatermarkedJPEG) > 0 {
			return errors.New("text draft cannot carry media")
		}
	case ContentPhoto:
		if d.MediaRef == "" && len(d.WatermarkedJPEG) == 0 {
			return errors.New("photo draft requires media")
		}
	case ContentVideo, ContentDocument:
		if d.MediaRef == "" {
			return fmt.Errorf("%s draft requires a media ref", d.Kind)
		}
	default:
		return fmt.Errorf("unknown content kind %q", d.Kind)
	}
	for i, b := range d.Buttons {
		if strings.TrimSpace(b.Label) == "" || strings.TrimSpace(b.URL) == "" {
			return fmt.Errorf("button %d: label and url are required", i+1)
		}
	}
	return nil
}

// HasText reports whether the draft carries any text or caption.
func (d DraftMessage) HasText() bool { return strings.TrimSpace(d.Text) != "" }

func (d DraftMessage) MarshalJSONString() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalDraft(s string) (DraftMessage, error) {
	var d DraftMessage
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return DraftMessage{}, err
	}
	return d, nil
}

// Segment names an audience subset. Resolution is always live against the
// directory, never cached.
type Segment string

const (
	SegmentAll            Segment = "all"
	SegmentSubscribers    Segment = "subscribers"
	SegmentNonSubscribers Segment = "nonsubscribers"
	SegmentAdmins         Segment = "admins"
)

func ParseSegment(s string) (Segment, error) {
	switch Segment(strings.ToLower(strings.TrimSpace(s))) {
	case SegmentAll:
		return SegmentAll, nil
	case SegmentSubscribers:
		return SegmentSubscribers, nil
	case SegmentNonSubscribers:
		return SegmentNonSubscribers, nil
	case SegmentAdmins:
		return SegmentAdmins, nil
	}
	return "", fmt.Errorf("unknown segment %q", s)
}

// Recurrence of a scheduled broadcast. Intervals are fixed durations; a
// "month" is a 30-day approximation, not calendar-aware.
type Recurrence string

const (
	RecurrenceOnce    Recurrence = "once"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

func (r Recurrence) Interval() (time.Duration, bool) {
	switch r {
	case RecurrenceDaily:
		return 24 * time.Hour, true
	case RecurrenceWeekly:
		return 7 * 24 * time.Hour, true
	case RecurrenceMonthly:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

func ParseRecurrence(s string) (Recurrence, error) {
	switch Recurrence(strings.ToLower(strings.TrimSpace(s))) {
	case RecurrenceOnce:
		return RecurrenceOnce, nil
	case RecurrenceDaily:
		return RecurrenceDaily, nil
	case RecurrenceWeekly:
		return RecurrenceWeekly, nil
	case RecurrenceMonthly:
		return RecurrenceMonthly, nil
	}
	return "", fmt.Errorf("unknown recurrence %q", s)
}

// ReviewKind tags which flow a reviewable item belongs to. Broadcasts and
// trade signals share one approval store and transition logic.
type ReviewKind string

const (
	ReviewBroadcast ReviewKind = "broadcast"
	ReviewSignal    ReviewKind = "signal"
)

// Approval statuses. Pending is the only non-terminal status.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Schedule statuses.
const (
	ScheduleStatusPending   = "pending"
	ScheduleStatusCompleted = "completed"
	ScheduleStatusCancelled = "cancelled"
)

// ApprovalRequest is a pending-approval record.
type ApprovalRequest struct {
	ID          string
	Kind        ReviewKind
	Draft       DraftMessage
	Segment     Segment
	CreatedBy   int64
	CreatorName string
	Status      string
	CreatedAt   time.Time
	ReviewedBy  int64
	ReviewedAt  time.Time
	Reason      string
}

// ScheduledBroadcast is a persisted future dispatch.
type ScheduledBroadcast struct {
	ID         string
	Draft      DraftMessage
	Segment    Segment
	DispatchAt time.Time
	Recurrence Recurrence
	CreatedBy  int64
	Status     string
	CreatedAt  time.Time
}

// DeliveryOutcome aggregates one fan-out pass.
// Attempted == Succeeded + FailedUnreachable + FailedOther always holds.
type DeliveryOutcome struct {
	Attempted         int
	Succeeded         int
	FailedUnreachable int
	FailedOther       int
}

func (o DeliveryOutcome) String() string {
	return fmt.Sprintf("attempted=%d ok=%d unreachable=%d other=%d",
		o.Attempted, o.Succeeded, o.FailedUnreachable, o.FailedOther)
}

// NotificationKind categorizes outbound messages for per-user opt-outs.
type NotificationKind string

const (
	NotifyBroadcast NotificationKind = "broadcast"
	NotifySignal    NotificationKind = "signal"
)

// Operator roles.
type Role string

const (
	RoleSuperAdmin  Role = "superadmin"
	RoleAdmin       Role = "admin"
	RoleModerator   Role = "moderator"
	RoleBroadcaster Role = "broadcaster"
	RoleNone        Role = ""
)

// CanSendDirect reports whether the role skips the approval step.
func (r Role) CanSendDirect() bool { return r == RoleSuperAdmin || r == RoleAdmin }

// CanReview reports whether the role may approve or reject submissions.
func (r Role) CanReview() bool { return r == RoleSuperAdmin || r == RoleAdmin }

// IsOperator reports whether the role may start a composition at all.
func (r Role) IsOperator() bool { return r != RoleNone }

// Audit actions that count against the send cooldown.
const (
	ActionBroadcastSend    = "broadcast.send"
	ActionBroadcastSubmit  = "broadcast.submit"
	ActionApprovedSend     = "broadcast.approved_send"
	ActionApprovalDecision = "broadcast.review"
	ActionScheduleCreate   = "broadcast.schedule"
	ActionScheduleCancel   = "broadcast.schedule_cancel"
)

// Domain errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrQualityRejected = errors.New("quality check failed")
	ErrAlreadyDecided  = errors.New("approval already decided")
)
