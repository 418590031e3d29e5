package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
)

// memStore is an in-memory storage.Store for tests.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]storage.UserRecord
	subs      map[int64]bool
	optouts   map[string]bool
	approvals map[string]storage.ApprovalRecord
	schedules map[string]storage.ScheduleRecord
	audit     []storage.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]storage.UserRecord{},
		subs:      map[int64]bool{},
		optouts:   map[string]bool{},
		approvals: map[string]storage.ApprovalRecord{},
		schedules: map[string]storage.ScheduleRecord{},
	}
}

func optKey(id int64, kind string) string { return fmt.Sprintf("%d/%s", id, kind) }

func (m *memStore) UpsertUser(_ context.Context, u storage.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memStore) ListUserIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out, nil
}

func (m *memStore) ListSubscriberIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id, on := range m.subs {
		if on {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) SetSubscribed(_ context.Context, id int64, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id] = on
	return nil
}

func (m *memStore) IsSubscribed(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id], nil
}

func (m *memStore) SetOptOut(_ context.Context, id int64, kind string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optouts[optKey(id, kind)] = on
	return nil
}

func (m *memStore) IsOptedOut(_ context.Context, id int64, kind string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optouts[optKey(id, kind)], nil
}

func (m *memStore) PruneUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	delete(m.subs, id)
	return nil
}

func (m *memStore) CountUsers(context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := 0
	for _, on := range m.subs {
		if on {
			subs++
		}
	}
	return len(m.users), subs, nil
}

func (m *memStore) InsertApproval(_ context.Context, r storage.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[r.ID] = r
	return nil
}

func (m *memStore) GetApproval(_ context.Context, id string) (storage.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return storage.ApprovalRecord{}, storage.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListPendingApprovals(context.Context) ([]storage.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ApprovalRecord
	for _, r := range m.approvals {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateApprovalStatus(_ context.Context, id, status string, reviewer int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.approvals[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	r.ReviewedBy = reviewer
	r.ReviewedAt = at
	r.Reason = reason
	m.approvals[id] = r
	return nil
}

func (m *memStore) InsertSchedule(_ context.Context, r storage.ScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[r.ID] = r
	return nil
}

func (m *memStore) GetSchedule(_ context.Context, id string) (storage.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.schedules[id]
	if !ok {
		return storage.ScheduleRecord{}, storage.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListDueSchedules(_ context.Context, now time.Time) ([]storage.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ScheduleRecord
	for _, r := range m.schedules {
		if r.Status == ScheduleStatusPending && !r.DispatchAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) RearmSchedule(_ context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.schedules[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.DispatchAt = next
	m.schedules[id] = r
	return nil
}

func (m *memStore) UpdateScheduleStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.schedules[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	m.schedules[id] = r
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) LastAuditAt(_ context.Context, actorID int64, actions []string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	found := false
	for _, e := range m.audit {
		if e.ActorID != actorID {
			continue
		}
		for _, a := range actions {
			if e.Action == a && e.At.After(last) {
				last = e.At
				found = true
			}
		}
	}
	return last, found, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.audit))
	for i, e := range m.audit {
		out[i] = e.Action
	}
	return out
}

// fakeSink records sends and fails recipients on demand.
type fakeSink struct {
	mu       sync.Mutex
	sent     []int64
	texts    []string
	media    []kit.Media
	failWith map[int64]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{failWith: map[int64]error{}}
}

func (f *fakeSink) send(to kit.ChatTarget, text string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[to.ChatID]; ok {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, to.ChatID)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.send(to, text)
}

func (f *fakeSink) sendMedia(to kit.ChatTarget, m kit.Media) (kit.MessageRef, error) {
	ref, err := f.send(to, m.Caption)
	if err == nil {
		f.mu.Lock()
		f.media = append(f.media, m)
		f.mu.Unlock()
	}
	return ref, err
}

func (f *fakeSink) SendPhoto(_ context.Context, to kit.ChatTarget, m kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.sendMedia(to, m)
}

func (f *fakeSink) SendVideo(_ context.Context, to kit.ChatTarget, m kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.sendMedia(to, m)
}

func (f *fakeSink) SendDocument(_ context.Context, to kit.ChatTarget, m kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.sendMedia(to, m)
}

// fakeDir is a DirectoryAPI that records prunes.
type fakeDir struct {
	mu       sync.Mutex
	optedOut map[int64]bool
	pruned   []int64
}

func newFakeDir() *fakeDir { return &fakeDir{optedOut: map[int64]bool{}} }

func (f *fakeDir) IsOptedOut(_ context.Context, id int64, _ NotificationKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.optedOut[id], nil
}

func (f *fakeDir) PruneUnreachable(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, id)
	return nil
}

// fixedResolver returns a static recipient list for any segment.
type fixedResolver struct{ ids []int64 }

func (f fixedResolver) ResolveSegment(context.Context, Segment) ([]int64, error) {
	return f.ids, nil
}

func textDraft(s string) DraftMessage {
	return DraftMessage{Kind: ContentText, Text: s}
}
