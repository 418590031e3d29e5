package bot

import (
	"context"
	"fmt"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/eventbus"
	kit "broadcastbot/internal/transport"
	"broadcastbot/pkg/logx"
)

// handleEvent delivers the fire-and-forget notifications: reviewers hear
// about new submissions, creators hear about decisions.
func (r *Router) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch ev.Topic {
	case eventbus.TopicApprovalCreated:
		data, ok := ev.Data.(broadcast.ApprovalCreatedEvent)
		if !ok {
			return
		}
		r.notifyReviewers(ctx, data.Request)
	case eventbus.TopicApprovalDecided:
		data, ok := ev.Data.(broadcast.ApprovalDecidedEvent)
		if !ok {
			return
		}
		r.notifyCreator(ctx, data)
	}
}

func (r *Router) notifyReviewers(ctx context.Context, req broadcast.ApprovalRequest) {
	opt := &kit.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: reviewKeyboard(req.ID).Markup(),
	}
	for _, id := range r.operators.ReviewerIDs() {
		if id == req.CreatedBy {
			continue
		}
		if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: id}, approvalSummary(req), opt); err != nil {
			r.log.Warn("reviewer notification failed",
				logx.Int64("reviewer", id), logx.String("id", req.ID), logx.Err(err))
		}
	}
}

func (r *Router) notifyCreator(ctx context.Context, ev broadcast.ApprovalDecidedEvent) {
	req := ev.Request
	var text string
	switch {
	case req.Status == broadcast.StatusApproved && ev.Outcome != nil:
		text = fmt.Sprintf("Your %s was approved and sent.\nDelivered %d of %d.",
			req.Kind, ev.Outcome.Succeeded, ev.Outcome.Attempted)
	case req.Status == broadcast.StatusApproved:
		text = fmt.Sprintf("Your %s was approved.", req.Kind)
	default:
		text = fmt.Sprintf("Your %s was rejected.", req.Kind)
		if req.Reason != "" {
			text += "\nReason: " + req.Reason
		}
	}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: req.CreatedBy}, text, nil); err != nil {
		r.log.Warn("creator notification failed",
			logx.Int64("creator", req.CreatedBy), logx.String("id", req.ID), logx.Err(err))
	}
}
