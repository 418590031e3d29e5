package directory

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

func testDirectory(t *testing.T, adminIDs func() []int64) *Directory {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, adminIDs, logx.Nop())
}

func seed(t *testing.T, d *Directory, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if err := d.Touch(context.Background(), id, "", ""); err != nil {
			t.Fatalf("Touch(%d): %v", id, err)
		}
	}
}

func sorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestResolveSegments(t *testing.T) {
	d := testDirectory(t, func() []int64 { return []int64{100, 101} })
	ctx := context.Background()

	seed(t, d, 1, 2, 3, 4)
	for _, id := range []int64{1, 3} {
		if err := d.Subscribe(ctx, id); err != nil {
			t.Fatalf("Subscribe(%d): %v", id, err)
		}
	}

	cases := []struct {
		seg  broadcast.Segment
		want []int64
	}{
		{broadcast.SegmentAll, []int64{1, 2, 3, 4}},
		{broadcast.SegmentSubscribers, []int64{1, 3}},
		{broadcast.SegmentNonSubscribers, []int64{2, 4}},
		{broadcast.SegmentAdmins, []int64{100, 101}},
	}
	for _, tc := range cases {
		got, err := d.ResolveSegment(ctx, tc.seg)
		if err != nil {
			t.Fatalf("ResolveSegment(%s): %v", tc.seg, err)
		}
		got = sorted(got)
		if len(got) != len(tc.want) {
			t.Fatalf("ResolveSegment(%s) = %v, want %v", tc.seg, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("ResolveSegment(%s) = %v, want %v", tc.seg, got, tc.want)
			}
		}
	}
}

func TestResolveUnknownSegment(t *testing.T) {
	d := testDirectory(t, nil)
	if _, err := d.ResolveSegment(context.Background(), broadcast.Segment("vips")); err == nil {
		t.Fatalf("unknown segment must fail")
	}
}

func TestUnsubscribeMovesSegments(t *testing.T) {
	d := testDirectory(t, nil)
	ctx := context.Background()

	seed(t, d, 1)
	if err := d.Subscribe(ctx, 1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := d.Unsubscribe(ctx, 1); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	on, err := d.IsSubscribed(ctx, 1)
	if err != nil || on {
		t.Fatalf("IsSubscribed = %v, %v; want false", on, err)
	}
	non, err := d.ResolveSegment(ctx, broadcast.SegmentNonSubscribers)
	if err != nil || len(non) != 1 || non[0] != 1 {
		t.Fatalf("non-subscribers = %v, %v", non, err)
	}
}

func TestPruneRemovesFromAllSegments(t *testing.T) {
	d := testDirectory(t, nil)
	ctx := context.Background()

	seed(t, d, 1, 2)
	if err := d.Subscribe(ctx, 1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := d.PruneUnreachable(ctx, 1); err != nil {
		t.Fatalf("PruneUnreachable: %v", err)
	}

	all, err := d.ResolveSegment(ctx, broadcast.SegmentAll)
	if err != nil || len(all) != 1 || all[0] != 2 {
		t.Fatalf("all after prune = %v, %v", all, err)
	}
	subs, err := d.ResolveSegment(ctx, broadcast.SegmentSubscribers)
	if err != nil || len(subs) != 0 {
		t.Fatalf("subscribers after prune = %v, %v", subs, err)
	}
}

func TestOptOutRoundTrip(t *testing.T) {
	d := testDirectory(t, nil)
	ctx := context.Background()

	seed(t, d, 1)
	if err := d.SetOptOut(ctx, 1, broadcast.NotifyBroadcast, true); err != nil {
		t.Fatalf("SetOptOut: %v", err)
	}
	out, err := d.IsOptedOut(ctx, 1, broadcast.NotifyBroadcast)
	if err != nil || !out {
		t.Fatalf("IsOptedOut = %v, %v; want true", out, err)
	}
	out, err = d.IsOptedOut(ctx, 1, broadcast.NotifySignal)
	if err != nil || out {
		t.Fatalf("signal opt-out leaked from broadcast opt-out")
	}
}
