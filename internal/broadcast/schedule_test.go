package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "broadcastbot/pkg/logx"
)

func testScheduler(now time.Time) (*Scheduler, *memStore) {
	st := newMemStore()
	s := NewScheduler(st, logx.Nop())
	s.now = func() time.Time { return now }
	return s, st
}

func TestSchedulePastTimeRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)

	_, err := s.Create(context.Background(), textDraft("hello everyone"), now.Add(-time.Minute), RecurrenceOnce, 1, SegmentAll)
	if err == nil {
		t.Fatalf("past dispatch time must be rejected")
	}
	_, err = s.Create(context.Background(), textDraft("hello everyone"), now, RecurrenceOnce, 1, SegmentAll)
	if err == nil {
		t.Fatalf("dispatch time equal to now must be rejected")
	}
}

func TestScheduleOnceCompletes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)
	ctx := context.Background()

	id, err := s.Create(ctx, textDraft("hello everyone"), now.Add(time.Hour), RecurrenceOnce, 1, SegmentAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.OnDispatched(ctx, id, RecurrenceOnce); err != nil {
		t.Fatalf("OnDispatched: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ScheduleStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestScheduleWeeklyRearmExact(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)
	ctx := context.Background()

	at := now.Add(time.Hour)
	id, err := s.Create(ctx, textDraft("hello everyone"), at, RecurrenceWeekly, 1, SegmentAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.OnDispatched(ctx, id, RecurrenceWeekly); err != nil {
		t.Fatalf("OnDispatched: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := at.Add(7 * 24 * time.Hour)
	if !got.DispatchAt.Equal(want) {
		t.Fatalf("re-armed dispatch = %v, want exactly %v", got.DispatchAt, want)
	}
	if got.Status != ScheduleStatusPending {
		t.Fatalf("recurring schedule must stay pending, got %q", got.Status)
	}
}

func TestScheduleMonthlyIsThirtyDays(t *testing.T) {
	// January 31st plus one "month" lands on March 2nd: the interval is a
	// fixed 30 days, never calendar-aware.
	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)
	ctx := context.Background()

	at := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	id, err := s.Create(ctx, textDraft("hello everyone"), at, RecurrenceMonthly, 1, SegmentAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.OnDispatched(ctx, id, RecurrenceMonthly); err != nil {
		t.Fatalf("OnDispatched: %v", err)
	}
	got, _ := s.Get(ctx, id)
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !got.DispatchAt.Equal(want) {
		t.Fatalf("monthly re-arm = %v, want %v", got.DispatchAt, want)
	}
}

func TestScheduleCancelIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)
	ctx := context.Background()

	id, err := s.Create(ctx, textDraft("hello everyone"), now.Add(time.Hour), RecurrenceDaily, 1, SegmentAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Cancel(ctx, id, 7); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := s.Cancel(ctx, id, 7); err != nil {
		t.Fatalf("second Cancel must be a no-op, got %v", err)
	}
	got, _ := s.Get(ctx, id)
	if got.Status != ScheduleStatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}

	// Cancelled schedules never come due.
	due, err := s.DueNow(ctx)
	if err != nil {
		t.Fatalf("DueNow: %v", err)
	}
	for _, d := range due {
		if d.ID == id {
			t.Fatalf("cancelled schedule reported due")
		}
	}
}

func TestScheduleCancelUnknown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)
	if err := s.Cancel(context.Background(), "missing", 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel(missing) = %v, want ErrNotFound", err)
	}
}

func TestScheduleDueNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testScheduler(now)
	ctx := context.Background()

	dueID, err := s.Create(ctx, textDraft("hello everyone"), now.Add(time.Minute), RecurrenceOnce, 1, SegmentAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = s.Create(ctx, textDraft("hello everyone"), now.Add(time.Hour), RecurrenceOnce, 1, SegmentAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	due, err := s.DueNow(ctx)
	if err != nil {
		t.Fatalf("DueNow: %v", err)
	}
	if len(due) != 1 || due[0].ID != dueID {
		t.Fatalf("expected exactly the elapsed schedule, got %+v", due)
	}
}
