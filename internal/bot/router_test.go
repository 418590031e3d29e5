package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/composer"
	"broadcastbot/internal/directory"
	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

type sentText struct {
	chat int64
	text string
}

// fakeAdapter records outbound traffic instead of talking to Telegram.
type fakeAdapter struct {
	texts   []sentText
	edits   []string
	answers []string
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.texts = append(f.texts, sentText{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, _ kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendVideo(_ context.Context, to kit.ChatTarget, _ kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendDocument(_ context.Context, to kit.ChatTarget, _ kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.answers = append(f.answers, text)
	return nil
}

type staticOperators struct{ ops map[int64]broadcast.Operator }

func (s staticOperators) Operator(id int64) (broadcast.Operator, bool) {
	op, ok := s.ops[id]
	return op, ok
}

func (s staticOperators) ReviewerIDs() []int64 {
	var out []int64
	for id, op := range s.ops {
		if op.Role.CanReview() {
			out = append(out, id)
		}
	}
	return out
}

const (
	creatorID  = int64(100)
	reviewerID = int64(200)
)

type routerRig struct {
	router    *Router
	adapter   *fakeAdapter
	approvals *broadcast.ApprovalStore
}

func newRouterRig(t *testing.T) *routerRig {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ops := staticOperators{ops: map[int64]broadcast.Operator{
		creatorID:  {ID: creatorID, Name: "mod", Role: broadcast.RoleModerator},
		reviewerID: {ID: reviewerID, Name: "boss", Role: broadcast.RoleSuperAdmin},
	}}
	ad := &fakeAdapter{}
	dir := directory.New(st, func() []int64 { return []int64{reviewerID} }, logx.Nop())
	bus := eventbus.New()
	approvals := broadcast.NewApprovalStore(st, logx.Nop())
	scheduler := broadcast.NewScheduler(st, logx.Nop())
	orch := broadcast.NewOrchestrator(broadcast.OrchestratorDeps{
		Gate:      broadcast.NewQualityGate(nil),
		Limiter:   broadcast.NewRateLimiter(st),
		Approvals: approvals,
		Scheduler: scheduler,
		Engine:    broadcast.NewEngine(broadcast.EngineConfig{}, ad, dir, logx.Nop()),
		Resolver:  dir,
		Store:     st,
		Bus:       bus,
		Log:       logx.Nop(),
	})
	r := New(Deps{
		Adapter:      ad,
		Directory:    dir,
		Orchestrator: orch,
		Approvals:    approvals,
		Scheduler:    scheduler,
		Composer:     composer.New(nil, func() string { return "" }, logx.Nop()),
		Operators:    ops,
		Bus:          bus,
		Log:          logx.Nop(),
	})
	return &routerRig{router: r, adapter: ad, approvals: approvals}
}

func (rig *routerRig) submitPending(t *testing.T) string {
	t.Helper()
	op, _ := rig.router.operator(creatorID)
	id, err := rig.router.orch.Submit(context.Background(), op, broadcast.ReviewBroadcast,
		broadcast.DraftMessage{Kind: broadcast.ContentText, Text: "A calm update for everyone today."},
		broadcast.SegmentAll)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func (rig *routerRig) pressReject(id string) {
	rig.router.handleCallback(context.Background(), &kit.Callback{
		ID:        "cb1",
		FromID:    reviewerID,
		ChatID:    reviewerID,
		MessageID: 77,
		Data:      reviewCallbackPrefix + "r:" + id,
	})
}

func (rig *routerRig) reviewerSays(text string) {
	rig.router.handleMessage(context.Background(), &kit.Message{
		ChatID: reviewerID,
		FromID: reviewerID,
		Text:   text,
	})
}

func lastText(t *testing.T, ad *fakeAdapter, chat int64) string {
	t.Helper()
	for i := len(ad.texts) - 1; i >= 0; i-- {
		if ad.texts[i].chat == chat {
			return ad.texts[i].text
		}
	}
	t.Fatalf("no message sent to chat %d", chat)
	return ""
}

func TestRejectWithReason(t *testing.T) {
	rig := newRouterRig(t)
	id := rig.submitPending(t)

	rig.pressReject(id)
	if got := lastText(t, rig.adapter, reviewerID); !strings.Contains(got, "reason") {
		t.Fatalf("reviewer was not asked for a reason: %q", got)
	}

	rig.reviewerSays("too promotional for this audience")

	rec, err := rig.approvals.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.Status != broadcast.StatusRejected {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.Reason != "too promotional for this audience" {
		t.Fatalf("reason = %q", rec.Reason)
	}
	if len(rig.adapter.edits) == 0 || !strings.Contains(rig.adapter.edits[len(rig.adapter.edits)-1], "Rejected") {
		t.Fatalf("review message not rewritten: %v", rig.adapter.edits)
	}
}

func TestRejectSkipMeansNoReason(t *testing.T) {
	rig := newRouterRig(t)
	id := rig.submitPending(t)

	rig.pressReject(id)
	rig.reviewerSays("/skip")

	rec, err := rig.approvals.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.Status != broadcast.StatusRejected || rec.Reason != "" {
		t.Fatalf("got %s/%q", rec.Status, rec.Reason)
	}
}

func TestRejectAbandonedByOtherCommand(t *testing.T) {
	rig := newRouterRig(t)
	id := rig.submitPending(t)

	rig.pressReject(id)
	rig.reviewerSays("/stats")

	rec, err := rig.approvals.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.Status != broadcast.StatusPending {
		t.Fatalf("an unrelated command must leave the submission pending, got %s", rec.Status)
	}

	// The pending rejection is gone; plain text is no longer consumed.
	rig.reviewerSays("stray text")
	rec, _ = rig.approvals.Get(context.Background(), id)
	if rec.Status != broadcast.StatusPending {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestRejectReasonParsing(t *testing.T) {
	cases := []struct {
		in     string
		reason string
		done   bool
	}{
		{"too spammy", "too spammy", true},
		{"  spaced  ", "spaced", true},
		{"/skip", "", true},
		{"/skip@MyBot", "", true},
		{"/skip trailing", "", true},
		{"/stats", "", false},
		{"/cancel", "", false},
	}
	for _, tc := range cases {
		reason, done := rejectReason(tc.in)
		if reason != tc.reason || done != tc.done {
			t.Fatalf("rejectReason(%q) = %q/%v, want %q/%v", tc.in, reason, done, tc.reason, tc.done)
		}
	}
}
