// Package directory resolves audience segments against the live user store
// and owns the self-healing removal of unreachable recipients.
package directory

import (
	"context"
	"fmt"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

type Directory struct {
	store storage.Store
	log   logx.Logger

	// adminIDs returns the current operator ids; a func so config reloads
	// are picked up without re-wiring.
	adminIDs func() []int64
}

func New(store storage.Store, adminIDs func() []int64, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{store: store, log: log, adminIDs: adminIDs}
}

// Touch records a user in the directory (on any inbound interaction).
func (d *Directory) Touch(ctx context.Context, id int64, username, name string) error {
	return d.store.UpsertUser(ctx, storage.UserRecord{ID: id, Username: username, Name: name})
}

func (d *Directory) Subscribe(ctx context.Context, id int64) error {
	return d.store.SetSubscribed(ctx, id, true)
}

func (d *Directory) Unsubscribe(ctx context.Context, id int64) error {
	return d.store.SetSubscribed(ctx, id, false)
}

func (d *Directory) IsSubscribed(ctx context.Context, id int64) (bool, error) {
	return d.store.IsSubscribed(ctx, id)
}

func (d *Directory) Counts(ctx context.Context) (total, subscribers int, err error) {
	return d.store.CountUsers(ctx)
}

// ResolveSegment computes the recipient set for a segment, always against
// the live directory. The initiating operator is never excluded; operators
// receive their own broadcasts like anyone else.
func (d *Directory) ResolveSegment(ctx context.Context, seg broadcast.Segment) ([]int64, error) {
	switch seg {
	case broadcast.SegmentAll:
		return d.store.ListUserIDs(ctx)
	case broadcast.SegmentSubscribers:
		return d.store.ListSubscriberIDs(ctx)
	case broadcast.SegmentNonSubscribers:
		all, err := d.store.ListUserIDs(ctx)
		if err != nil {
			return nil, err
		}
		subs, err := d.store.ListSubscriberIDs(ctx)
		if err != nil {
			return nil, err
		}
		subset := make(map[int64]bool, len(subs))
		for _, id := range subs {
			subset[id] = true
		}
		out := make([]int64, 0, len(all))
		for _, id := range all {
			if !subset[id] {
				out = append(out, id)
			}
		}
		return out, nil
	case broadcast.SegmentAdmins:
		if d.adminIDs == nil {
			return nil, nil
		}
		return d.adminIDs(), nil
	}
	return nil, fmt.Errorf("unknown segment %q", seg)
}

// IsOptedOut reports whether the user opted out of the notification kind.
func (d *Directory) IsOptedOut(ctx context.Context, id int64, kind broadcast.NotificationKind) (bool, error) {
	return d.store.IsOptedOut(ctx, id, string(kind))
}

func (d *Directory) SetOptOut(ctx context.Context, id int64, kind broadcast.NotificationKind, on bool) error {
	return d.store.SetOptOut(ctx, id, string(kind), on)
}

// PruneUnreachable permanently removes a recipient and all related rows.
// Prunes are independent per-id deletions, safe under concurrent batches.
func (d *Directory) PruneUnreachable(ctx context.Context, id int64) error {
	if err := d.store.PruneUser(ctx, id); err != nil {
		return err
	}
	d.log.Info("unreachable recipient pruned", logx.Int64("user", id))
	return nil
}
