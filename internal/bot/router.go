// Package bot is the Telegram-facing command router. It translates
// incoming updates into directory, composer, and orchestrator calls and
// renders their results back to chats. Recipients of a broadcast never
// see delivery errors; only the initiating operator gets a summary.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/composer"
	"broadcastbot/internal/directory"
	"broadcastbot/internal/eventbus"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// OperatorResolver maps a Telegram user id to a configured operator.
type OperatorResolver interface {
	Operator(id int64) (broadcast.Operator, bool)
	ReviewerIDs() []int64
}

type Deps struct {
	Adapter      kit.Adapter
	Directory    *directory.Directory
	Orchestrator *broadcast.Orchestrator
	Approvals    *broadcast.ApprovalStore
	Scheduler    *broadcast.Scheduler
	Composer     *composer.Composer
	Operators    OperatorResolver
	Bus          eventbus.Bus
	Log          logx.Logger
}

type Router struct {
	adapter   kit.Adapter
	dir       *directory.Directory
	orch      *broadcast.Orchestrator
	approvals *broadcast.ApprovalStore
	scheduler *broadcast.Scheduler
	composer  *composer.Composer
	operators OperatorResolver
	bus       eventbus.Bus
	log       logx.Logger

	// rejects holds reviewers who pressed Reject and owe a reason.
	// Touched only from the update goroutine.
	rejects map[int64]pendingReject

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(d Deps) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Router{
		adapter:   d.Adapter,
		dir:       d.Directory,
		orch:      d.Orchestrator,
		approvals: d.Approvals,
		scheduler: d.Scheduler,
		composer:  d.Composer,
		operators: d.Operators,
		bus:       d.Bus,
		log:       d.Log,
		rejects:   map[int64]pendingReject{},
	}
}

// Start begins consuming updates and bus notifications.
func (r *Router) Start(ctx context.Context, updates <-chan kit.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	events, unsub := r.bus.Subscribe(32)

	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				r.handleUpdate(runCtx, up)
			case ev, ok := <-events:
				if !ok {
					return
				}
				r.handleEvent(runCtx, ev)
			}
		}
	}()
	return nil
}

func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) handleUpdate(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("update handler panicked", logx.Any("panic", rec))
		}
	}()

	// Bound each interaction so a slow API call can't wedge the loop.
	ctx, cancelFn := context.WithTimeout(ctx, 30*time.Second)
	defer cancelFn()

	switch up.Kind {
	case kit.UpdateMessage, kit.UpdateMedia:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	if err := r.dir.Touch(ctx, m.FromID, m.FromUsername, m.FromName); err != nil {
		r.log.Warn("directory touch failed", logx.Int64("user", m.FromID), logx.Err(err))
	}

	if pr, ok := r.rejects[m.FromID]; ok && r.resolveReject(ctx, m, pr) {
		return
	}

	if strings.HasPrefix(m.Text, "/") {
		r.handleCommand(ctx, m)
		return
	}

	// Non-command input only matters mid-composition.
	if r.composer.Active(m.FromID) {
		r.feedComposer(ctx, m)
		return
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	switch {
	case strings.HasPrefix(cb.Data, reviewCallbackPrefix):
		r.handleReviewCallback(ctx, cb)
	default:
		// Everything else belongs to an active composition.
		r.handleComposeCallback(ctx, cb)
	}
}

// reply sends plain text back to the chat a message came from.
func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) replyHTML(ctx context.Context, chatID int64, html string) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, html, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) operator(id int64) (broadcast.Operator, bool) {
	return r.operators.Operator(id)
}
