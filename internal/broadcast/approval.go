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

// ApprovalStore keeps pending-approval records and their terminal
// transitions. It is the single reviewable-item store: broadcasts and
// signals share it, tagged by ReviewKind.
//
// Transition does not itself reject re-transition of an already-terminal
// record; callers must check Status before acting.
type ApprovalStore struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewApprovalStore(store storage.Store, log logx.Logger) *ApprovalStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ApprovalStore{store: store, log: log, now: time.Now}
}

// Create persists a new Pending request and returns its id.
func (s *ApprovalStore) Create(ctx context.Context, kind ReviewKind, draft DraftMessage, segment Segment, creator int64, creatorName string) (string, error) {
	draftJSON, err := draft.MarshalJSONString()
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	rec := storage.ApprovalRecord{
		ID:          uuid.NewString(),
		Kind:        string(kind),
		DraftJSON:   draftJSON,
		Segment:     string(segment),
		CreatedBy:   creator,
		CreatorName: creatorName,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertApproval(ctx, rec); err != nil {
		return "", err
	}
	s.log.Info("approval request created",
		logx.String("id", rec.ID),
		logx.String("kind", rec.Kind),
		logx.Int64("creator", creator),
		logx.String("segment", rec.Segment))
	return rec.ID, nil
}

// ListPending returns pending requests ordered oldest-first.
func (s *ApprovalStore) ListPending(ctx context.Context) ([]ApprovalRequest, error) {
	recs, err := s.store.ListPendingApprovals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ApprovalRequest, 0, len(recs))
	for _, r := range recs {
		req, err := approvalFromRecord(r)
		if err != nil {
			s.log.Warn("skipping unreadable approval record", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (ApprovalRequest, error) {
	rec, err := s.store.GetApproval(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRequest{}, err
	}
	return approvalFromRecord(rec)
}

// Transition moves the record to Approved or Rejected and audits the
// decision. It fails with ErrNotFound for unknown ids.
func (s *ApprovalStore) Transition(ctx context.Context, id, status string, reviewer int64, reason string) (ApprovalRequest, error) {
	if status != StatusApproved && status != StatusRejected {
		return ApprovalRequest{}, fmt.Errorf("invalid transition target %q", status)
	}
	at := s.now()
	err := s.store.UpdateApprovalStatus(ctx, id, status, reviewer, reason, at)
	if errors.Is(err, storage.ErrNotFound) {
		return ApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRequest{}, err
	}

	_ = s.store.AppendAudit(ctx, storage.AuditEntry{
		At:       at,
		ActorID:  reviewer,
		Action:   ActionApprovalDecision,
		Target:   id,
		Error:    reason,
		MetaJSON: fmt.Sprintf(`{"status":%q}`, status),
	})

	return s.Get(ctx, id)
}

func approvalFromRecord(r storage.ApprovalRecord) (ApprovalRequest, error) {
	draft, err := UnmarshalDraft(r.DraftJSON)
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("decode draft: %w", err)
	}
	return ApprovalRequest{
		ID:          r.ID,
		Kind:        ReviewKind(r.Kind),
		Draft:       draft,
		Segment:     Segment(r.Segment),
		CreatedBy:   r.CreatedBy,
		CreatorName: r.CreatorName,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		ReviewedBy:  r.ReviewedBy,
		ReviewedAt:  r.ReviewedAt,
		Reason:      r.Reason,
	}, nil
}
