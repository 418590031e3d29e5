package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/composer"
	kit "broadcastbot/internal/transport"
	"broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

func isNotFound(err error) bool { return errors.Is(err, broadcast.ErrNotFound) }

func (r *Router) sendPrompt(ctx context.Context, chatID int64, p composer.Prompt) {
	opt := &kit.SendOptions{DisablePreview: true}
	if len(p.Choices) > 0 {
		kb := tgui.NewInline()
		for _, c := range p.Choices {
			kb.Row(tgui.Btn(c.Label, c.Data))
		}
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, p.Text, opt); err != nil {
		r.log.Warn("prompt send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// feedComposer forwards a message from an operator with an active session.
func (r *Router) feedComposer(ctx context.Context, m *kit.Message) {
	in := composer.Input{Kind: composer.InputText, Text: m.Text}
	if m.Media != nil {
		in = composer.Input{Kind: composer.InputMedia, Media: m.Media}
	}
	res, err := r.composer.Handle(ctx, m.FromID, in)
	if err != nil {
		r.log.Warn("composition step failed", logx.Int64("operator", m.FromID), logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong with that step, please try again or /cancel.")
		return
	}
	r.applyComposeResult(ctx, m.ChatID, m.FromID, res)
}

func (r *Router) handleComposeCallback(ctx context.Context, cb *kit.Callback) {
	if !r.composer.Active(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "This composition has expired.")
		return
	}
	_ = r.adapter.AnswerCallback(ctx, cb.ID, "")

	res, err := r.composer.Handle(ctx, cb.FromID, composer.Input{
		Kind:   composer.InputChoice,
		Choice: cb.Data,
	})
	if err != nil {
		r.log.Warn("composition step failed", logx.Int64("operator", cb.FromID), logx.Err(err))
		r.reply(ctx, cb.ChatID, "Something went wrong with that step, please try again or /cancel.")
		return
	}
	r.applyComposeResult(ctx, cb.ChatID, cb.FromID, res)
}

func (r *Router) applyComposeResult(ctx context.Context, chatID, operatorID int64, res composer.Result) {
	if res.Notice != "" {
		r.reply(ctx, chatID, res.Notice)
	}
	if res.Prompt != nil {
		r.sendPrompt(ctx, chatID, *res.Prompt)
	}
	if res.Submission != nil {
		r.finishSubmission(ctx, chatID, operatorID, *res.Submission)
	}
}

func (r *Router) finishSubmission(ctx context.Context, chatID, operatorID int64, sub composer.Submission) {
	op, ok := r.operator(operatorID)
	if !ok {
		r.reply(ctx, chatID, "You are no longer configured as an operator.")
		return
	}

	if sub.Mode == composer.ModeScheduled {
		id, err := r.orch.Schedule(ctx, op, sub.Draft, sub.Segment, sub.DispatchAt, sub.Recurrence)
		if err != nil {
			r.reply(ctx, chatID, friendlyError(err))
			return
		}
		r.replyHTML(ctx, chatID, string(tgui.JoinH("\n",
			tgui.B("Broadcast scheduled"),
			tgui.Esc(fmt.Sprintf("First dispatch: %s", sub.DispatchAt.Local().Format("2006-01-02 15:04"))),
			tgui.Esc(fmt.Sprintf("Repeats: %s", sub.Recurrence)),
			tgui.JoinH(" ", tgui.Esc("Id:"), tgui.Code(id)),
		)))
		return
	}

	if sub.RequiresApproval {
		id, err := r.orch.Submit(ctx, op, broadcast.ReviewBroadcast, sub.Draft, sub.Segment)
		if err != nil {
			r.reply(ctx, chatID, friendlyError(err))
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf(
			"Submitted for approval (id %s). You'll be notified when it is reviewed.", id))
		return
	}

	out, err := r.orch.SendNow(ctx, op, sub.Draft, sub.Segment)
	if err != nil {
		r.reply(ctx, chatID, friendlyError(err))
		return
	}
	r.replyHTML(ctx, chatID, outcomeSummary(sub.Segment, out))
}

func outcomeSummary(seg broadcast.Segment, out broadcast.DeliveryOutcome) string {
	parts := []tgui.H{
		tgui.B("Broadcast complete"),
		tgui.Esc(fmt.Sprintf("Audience: %s", seg)),
		tgui.Esc(fmt.Sprintf("Delivered: %d of %d", out.Succeeded, out.Attempted)),
	}
	if out.FailedUnreachable > 0 {
		parts = append(parts, tgui.Esc(fmt.Sprintf("Removed unreachable: %d", out.FailedUnreachable)))
	}
	if out.FailedOther > 0 {
		parts = append(parts, tgui.Esc(fmt.Sprintf("Other failures: %d", out.FailedOther)))
	}
	return string(tgui.JoinH("\n", parts...))
}

// friendlyError turns gate failures into operator-facing text. Internal
// errors stay generic.
func friendlyError(err error) string {
	var qe *broadcast.QualityError
	if errors.As(err, &qe) {
		lines := make([]string, len(qe.Violations))
		for i, v := range qe.Violations {
			lines[i] = string(v)
		}
		return "The message didn't pass the quality check:\n- " +
			strings.Join(lines, "\n- ")
	}
	var re *broadcast.RateLimitError
	if errors.As(err, &re) {
		return fmt.Sprintf("You're sending too often. Try again in %s.", re.Wait)
	}
	return "Something went wrong, nothing was sent. Please try again."
}

func (r *Router) handleReviewCallback(ctx context.Context, cb *kit.Callback) {
	op, ok := r.operator(cb.FromID)
	if !ok || !op.Role.CanReview() {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Not allowed.")
		return
	}

	rest := strings.TrimPrefix(cb.Data, reviewCallbackPrefix)
	verdict, id, found := strings.Cut(rest, ":")
	if !found || id == "" {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Malformed action.")
		return
	}

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	switch verdict {
	case "a":
		out, err := r.orch.Approve(ctx, op, id)
		switch {
		case err == nil:
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Approved.")
			_ = r.adapter.EditText(ctx, ref,
				fmt.Sprintf("Approved and sent.\nDelivered %d of %d.", out.Succeeded, out.Attempted), nil)
		case errors.Is(err, broadcast.ErrAlreadyDecided):
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Already decided by another reviewer.")
		case isNotFound(err):
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Submission no longer exists.")
		default:
			r.log.Warn("approval failed", logx.String("id", id), logx.Err(err))
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Approval failed, try again.")
		}
	case "r":
		// The decision lands only after the reviewer supplies a reason.
		rec, err := r.approvals.Get(ctx, id)
		switch {
		case isNotFound(err):
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Submission no longer exists.")
		case err != nil:
			r.log.Warn("rejection lookup failed", logx.String("id", id), logx.Err(err))
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Rejection failed, try again.")
		case rec.Status != broadcast.StatusPending:
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "Already decided by another reviewer.")
		default:
			r.rejects[cb.FromID] = pendingReject{approvalID: id, ref: ref}
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
			r.reply(ctx, cb.ChatID, "Reply with a rejection reason, or /skip for none.")
		}
	default:
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Malformed action.")
	}
}

// pendingReject remembers which submission a reviewer is rejecting and the
// review message to rewrite once the decision lands.
type pendingReject struct {
	approvalID string
	ref        kit.MessageRef
}

// rejectReason interprets the reviewer's follow-up message. done=false means
// the message is an unrelated command and the pending rejection is dropped.
func rejectReason(text string) (reason string, done bool) {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "/") {
		cmd, _, _ := strings.Cut(t, " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		if cmd == "/skip" {
			return "", true
		}
		return "", false
	}
	return t, true
}

// resolveReject consumes the reviewer's reply to a reject prompt. It reports
// whether the message was consumed.
func (r *Router) resolveReject(ctx context.Context, m *kit.Message, pr pendingReject) bool {
	delete(r.rejects, m.FromID)

	reason, done := rejectReason(m.Text)
	if !done {
		// An unrelated command abandons the rejection; the submission
		// stays pending for any reviewer.
		return false
	}

	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.CanReview() {
		r.reply(ctx, m.ChatID, "You are no longer allowed to review.")
		return true
	}

	err := r.orch.Reject(ctx, op, pr.approvalID, reason)
	switch {
	case err == nil:
		_ = r.adapter.EditText(ctx, pr.ref, "Rejected. The creator has been notified.", nil)
	case errors.Is(err, broadcast.ErrAlreadyDecided):
		r.reply(ctx, m.ChatID, "Already decided by another reviewer.")
	case isNotFound(err):
		r.reply(ctx, m.ChatID, "Submission no longer exists.")
	default:
		r.log.Warn("rejection failed", logx.String("id", pr.approvalID), logx.Err(err))
		r.reply(ctx, m.ChatID, "Rejection failed, try again from the review message.")
	}
	return true
}
