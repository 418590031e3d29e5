package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/composer"
	kit "broadcastbot/internal/transport"
	"broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

func (r *Router) handleCommand(ctx context.Context, m *kit.Message) {
	cmd, args := splitCommand(m.Text)
	switch cmd {
	case "/start":
		r.cmdStart(ctx, m)
	case "/help":
		r.cmdHelp(ctx, m)
	case "/subscribe":
		r.cmdSubscribe(ctx, m, true)
	case "/unsubscribe":
		r.cmdSubscribe(ctx, m, false)
	case "/stop":
		r.cmdOptOut(ctx, m, true)
	case "/resume":
		r.cmdOptOut(ctx, m, false)
	case "/add":
		r.cmdAdd(ctx, m, args)
	case "/stats":
		r.cmdStats(ctx, m)
	case "/subscribers":
		r.cmdSubscribers(ctx, m)
	case "/broadcast":
		r.cmdCompose(ctx, m, composer.ModeImmediate)
	case "/schedule":
		r.cmdCompose(ctx, m, composer.ModeScheduled)
	case "/pending":
		r.cmdPending(ctx, m)
	case "/cancelbroadcast":
		r.cmdCancelSchedule(ctx, m, args)
	case "/cancel":
		r.cmdCancel(ctx, m)
	default:
		// Unknown commands mid-composition are still composer input
		// (e.g. /skip on the buttons step).
		if r.composer.Active(m.FromID) {
			r.feedComposer(ctx, m)
		}
	}
}

func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	cmd, args, _ = strings.Cut(text, " ")
	// Strip the @botname suffix Telegram appends in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (r *Router) cmdStart(ctx context.Context, m *kit.Message) {
	r.reply(ctx, m.ChatID,
		"Hello! You are now registered.\n"+
			"/subscribe to receive announcements, /help for all commands.")
}

func (r *Router) cmdHelp(ctx context.Context, m *kit.Message) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("/subscribe - receive announcements\n")
	b.WriteString("/unsubscribe - stop announcements\n")
	b.WriteString("/stop - mute broadcasts\n")
	b.WriteString("/resume - unmute broadcasts\n")

	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.IsOperator() {
		r.reply(ctx, m.ChatID, b.String())
		return
	}

	b.WriteString("\nOperator commands:\n")
	b.WriteString("/broadcast - compose and send a broadcast\n")
	b.WriteString("/schedule - compose a scheduled broadcast\n")
	b.WriteString("/stats - user and subscriber counts\n")
	b.WriteString("/cancel - abort the current composition\n")
	if op.Role.CanReview() {
		b.WriteString("/pending - review pending submissions\n")
	}
	if op.Role.CanSendDirect() {
		b.WriteString("/subscribers - subscriber details\n")
		b.WriteString("/add <id> [name] - register a user by id\n")
		b.WriteString("/cancelbroadcast <id> - cancel a scheduled broadcast\n")
	}
	r.reply(ctx, m.ChatID, b.String())
}

func (r *Router) cmdSubscribe(ctx context.Context, m *kit.Message, on bool) {
	var err error
	if on {
		err = r.dir.Subscribe(ctx, m.FromID)
	} else {
		err = r.dir.Unsubscribe(ctx, m.FromID)
	}
	if err != nil {
		r.log.Warn("subscription change failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	if on {
		r.reply(ctx, m.ChatID, "Subscribed. You will receive announcements.")
	} else {
		r.reply(ctx, m.ChatID, "Unsubscribed. You will no longer receive announcements.")
	}
}

func (r *Router) cmdOptOut(ctx context.Context, m *kit.Message, out bool) {
	if err := r.dir.SetOptOut(ctx, m.FromID, broadcast.NotifyBroadcast, out); err != nil {
		r.log.Warn("opt-out change failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	if out {
		r.reply(ctx, m.ChatID, "Broadcasts muted. Send /resume to get them again.")
	} else {
		r.reply(ctx, m.ChatID, "Broadcasts resumed.")
	}
}

func (r *Router) cmdAdd(ctx context.Context, m *kit.Message, args string) {
	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.CanSendDirect() {
		return
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		r.reply(ctx, m.ChatID, "Usage: /add <telegram id> [name]")
		return
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		r.reply(ctx, m.ChatID, "That doesn't look like a Telegram id.")
		return
	}
	name := strings.Join(fields[1:], " ")
	if err := r.dir.Touch(ctx, id, "", name); err != nil {
		r.log.Warn("manual user add failed", logx.Int64("user", id), logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	r.reply(ctx, m.ChatID, fmt.Sprintf("Registered user %d.", id))
}

func (r *Router) cmdStats(ctx context.Context, m *kit.Message) {
	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.IsOperator() {
		return
	}
	total, subs, err := r.dir.Counts(ctx)
	if err != nil {
		r.log.Warn("stats lookup failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	r.replyHTML(ctx, m.ChatID, string(tgui.JoinH("\n",
		tgui.B("Directory"),
		tgui.Esc(fmt.Sprintf("Users: %d", total)),
		tgui.Esc(fmt.Sprintf("Subscribers: %d", subs)),
	)))
}

func (r *Router) cmdSubscribers(ctx context.Context, m *kit.Message) {
	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.CanSendDirect() {
		return
	}
	total, subs, err := r.dir.Counts(ctx)
	if err != nil {
		r.log.Warn("subscriber lookup failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	pct := 0.0
	if total > 0 {
		pct = float64(subs) / float64(total) * 100
	}
	r.replyHTML(ctx, m.ChatID, string(tgui.JoinH("\n",
		tgui.B("Subscribers"),
		tgui.Esc(fmt.Sprintf("%d of %d users (%.0f%%)", subs, total, pct)),
	)))
}

func (r *Router) cmdCompose(ctx context.Context, m *kit.Message, mode composer.Mode) {
	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.IsOperator() {
		return
	}
	if mode == composer.ModeScheduled && !op.Role.CanSendDirect() {
		r.reply(ctx, m.ChatID, "Scheduling requires broadcast permission. Use /broadcast to submit for approval.")
		return
	}
	prompt := r.composer.Start(op, mode)
	r.sendPrompt(ctx, m.ChatID, prompt)
}

func (r *Router) cmdCancel(ctx context.Context, m *kit.Message) {
	if r.composer.Cancel(m.FromID) {
		r.reply(ctx, m.ChatID, "Composition cancelled. Nothing was sent.")
	}
}

const reviewCallbackPrefix = "rv:"

func reviewKeyboard(id string) *tgui.Inline {
	return tgui.NewInline().Row(
		tgui.Btn("Approve", reviewCallbackPrefix+"a:"+id),
		tgui.Btn("Reject", reviewCallbackPrefix+"r:"+id),
	)
}

func (r *Router) cmdPending(ctx context.Context, m *kit.Message) {
	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.CanReview() {
		return
	}
	items, err := r.approvals.ListPending(ctx)
	if err != nil {
		r.log.Warn("pending list failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	if len(items) == 0 {
		r.reply(ctx, m.ChatID, "Nothing pending.")
		return
	}
	for _, item := range items {
		opt := &kit.SendOptions{
			ParseMode:          "HTML",
			DisablePreview:     true,
			ReplyMarkupAdapter: reviewKeyboard(item.ID).Markup(),
		}
		if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, approvalSummary(item), opt); err != nil {
			r.log.Warn("pending item send failed", logx.String("id", item.ID), logx.Err(err))
		}
	}
}

func approvalSummary(item broadcast.ApprovalRequest) string {
	preview := item.Draft.Text
	if !item.Draft.HasText() {
		preview = fmt.Sprintf("(%s, no caption)", item.Draft.Kind)
	}
	if rs := []rune(preview); len(rs) > 300 {
		preview = string(rs[:300]) + "…"
	}
	creator := item.CreatorName
	if creator == "" {
		creator = strconv.FormatInt(item.CreatedBy, 10)
	}
	return string(tgui.JoinH("\n",
		tgui.B(fmt.Sprintf("Pending %s", item.Kind)),
		tgui.Esc(fmt.Sprintf("From: %s", creator)),
		tgui.Esc(fmt.Sprintf("Audience: %s", item.Segment)),
		tgui.Esc(fmt.Sprintf("Submitted: %s", item.CreatedAt.Local().Format("2006-01-02 15:04"))),
		"",
		tgui.Esc(preview),
	))
}

func (r *Router) cmdCancelSchedule(ctx context.Context, m *kit.Message, args string) {
	op, ok := r.operator(m.FromID)
	if !ok || !op.Role.CanSendDirect() {
		return
	}
	id := strings.TrimSpace(args)
	if id == "" {
		r.reply(ctx, m.ChatID, "Usage: /cancelbroadcast <schedule id>")
		return
	}
	err := r.scheduler.Cancel(ctx, id, op.ID)
	switch {
	case err == nil:
		r.reply(ctx, m.ChatID, "Scheduled broadcast cancelled.")
	case isNotFound(err):
		r.reply(ctx, m.ChatID, "No scheduled broadcast with that id.")
	default:
		r.log.Warn("schedule cancel failed", logx.String("id", id), logx.Err(err))
		r.reply(ctx, m.ChatID, "Something went wrong, please try again.")
	}
}
