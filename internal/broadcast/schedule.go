package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

// Scheduler owns the persisted future-dispatch records. It never delivers;
// it only surfaces due items. The orchestrator's poll calls DueNow, then
// for each item Deliver and OnDispatched exactly once.
type Scheduler struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewScheduler(store storage.Store, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{store: store, log: log, now: time.Now}
}

// Create persists a Pending schedule and returns its id.
func (s *Scheduler) Create(ctx context.Context, draft DraftMessage, dispatchAt time.Time, rec Recurrence, creator int64, segment Segment) (string, error) {
	if !dispatchAt.After(s.now()) {
		return "", errors.New("dispatch time must be in the future")
	}
	draftJSON, err := draft.MarshalJSONString()
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	r := storage.ScheduleRecord{
		ID:         uuid.NewString(),
		DraftJSON:  draftJSON,
		Segment:    string(segment),
		DispatchAt: dispatchAt,
		Recurrence: string(rec),
		CreatedBy:  creator,
		Status:     ScheduleStatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertSchedule(ctx, r); err != nil {
		return "", err
	}
	s.log.Info("broadcast scheduled",
		logx.String("id", r.ID),
		logx.Time("dispatch_at", dispatchAt),
		logx.String("recurrence", r.Recurrence),
		logx.Int64("creator", creator))
	return r.ID, nil
}

// DueNow returns Pending schedules whose dispatch time has arrived.
func (s *Scheduler) DueNow(ctx context.Context) ([]ScheduledBroadcast, error) {
	recs, err := s.store.ListDueSchedules(ctx, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledBroadcast, 0, len(recs))
	for _, r := range recs {
		sb, err := scheduleFromRecord(r)
		if err != nil {
			s.log.Warn("skipping unreadable schedule record", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, sb)
	}
	return out, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (ScheduledBroadcast, error) {
	rec, err := s.store.GetSchedule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ScheduledBroadcast{}, ErrNotFound
	}
	if err != nil {
		return ScheduledBroadcast{}, err
	}
	return scheduleFromRecord(rec)
}

// OnDispatched advances the schedule after a dispatch attempt, regardless of
// delivery outcome. Once completes the record; recurring schedules are
// re-armed at previous dispatch time plus the fixed interval, which is
// always strictly later.
func (s *Scheduler) OnDispatched(ctx context.Context, id string, rec Recurrence) error {
	interval, recurring := rec.Interval()
	if !recurring {
		err := s.store.UpdateScheduleStatus(ctx, id, ScheduleStatusCompleted)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	cur, err := s.store.GetSchedule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	next := cur.DispatchAt.Add(interval)
	if err := s.store.RearmSchedule(ctx, id, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.log.Debug("schedule re-armed", logx.String("id", id), logx.Time("next", next))
	return nil
}

// Cancel flags the schedule Cancelled. Cancelling an already-cancelled
// schedule is a no-op, not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string, canceller int64) error {
	err := s.store.UpdateScheduleStatus(ctx, id, ScheduleStatusCancelled)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_ = s.store.AppendAudit(ctx, storage.AuditEntry{
		ActorID: canceller,
		Action:  ActionScheduleCancel,
		Target:  id,
	})
	return nil
}

func scheduleFromRecord(r storage.ScheduleRecord) (ScheduledBroadcast, error) {
	draft, err := UnmarshalDraft(r.DraftJSON)
	if err != nil {
		return ScheduledBroadcast{}, fmt.Errorf("decode draft: %w", err)
	}
	return ScheduledBroadcast{
		ID:         r.ID,
		Draft:      draft,
		Segment:    Segment(r.Segment),
		DispatchAt: r.DispatchAt,
		Recurrence: Recurrence(r.Recurrence),
		CreatedBy:  r.CreatedBy,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}, nil
}
