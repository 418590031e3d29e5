package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// DirectoryAPI is the slice of the recipient directory the engine needs.
type DirectoryAPI interface {
	IsOptedOut(ctx context.Context, id int64, kind NotificationKind) (bool, error)
	PruneUnreachable(ctx context.Context, id int64) error
}

// EngineConfig tunes the delivery fan-out.
type EngineConfig struct {
	// RatePerSec caps sends per second. When zero, SendPause drives pacing.
	RatePerSec int
	// SendPause is the fixed inter-send pause used when RatePerSec is zero.
	SendPause time.Duration
	// SendTimeout bounds each delivery attempt so one unresponsive
	// recipient cannot stall the batch. Timeout counts as failedOther.
	SendTimeout time.Duration
	// OptOutFooter is appended to every delivered message.
	OptOutFooter string
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.RatePerSec <= 0 && c.SendPause <= 0 {
		c.SendPause = 50 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Engine fans one draft out to many recipients. It is a pure delivery
// primitive: no notifications, no credit calls, no retries. Failures are
// classified, unreachable recipients are pruned from the directory, and the
// batch always runs to completion.
type Engine struct {
	mu  sync.Mutex
	cfg EngineConfig

	sink kit.Sink
	dir  DirectoryAPI
	log  logx.Logger

	limiter *rate.Limiter
}

func NewEngine(cfg EngineConfig, sink kit.Sink, dir DirectoryAPI, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, sink: sink, dir: dir, log: log, limiter: newLimiter(cfg)}
}

func newLimiter(cfg EngineConfig) *rate.Limiter {
	if cfg.RatePerSec > 0 {
		// burst 1: even spacing, no clustering at batch start
		return rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return rate.NewLimiter(rate.Every(cfg.SendPause), 1)
}

// Apply swaps the engine configuration. Safe to call while batches run;
// in-flight sends keep the snapshot they started with.
func (e *Engine) Apply(cfg EngineConfig) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = newLimiter(cfg)
	e.mu.Unlock()
}

// Deliver processes every recipient exactly once and returns the aggregate
// outcome. Attempted == Succeeded + FailedUnreachable + FailedOther.
func (e *Engine) Deliver(ctx context.Context, draft DraftMessage, recipients []int64, kind NotificationKind) DeliveryOutcome {
	e.mu.Lock()
	cfg := e.cfg
	lim := e.limiter
	e.mu.Unlock()

	send := e.renderer(draft, cfg.OptOutFooter)

	var out DeliveryOutcome
	for _, id := range recipients {
		out.Attempted++

		if ctx.Err() != nil {
			// Batch interrupted: remaining recipients count as other
			// failures so the outcome invariant still holds.
			out.FailedOther++
			continue
		}

		optedOut, err := e.dir.IsOptedOut(ctx, id, kind)
		if err != nil {
			e.log.Warn("opt-out lookup failed", logx.Int64("user", id), logx.Err(err))
			out.FailedOther++
			continue
		}
		if optedOut {
			out.FailedOther++
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = send(sctx, kit.ChatTarget{ChatID: id})
		cancel()

		if err == nil {
			out.Succeeded++
			// Yield between sends so concurrent batches and the event loop
			// interleave, and platform throughput limits are respected.
			_ = lim.Wait(ctx)
			continue
		}

		if errors.Is(err, kit.ErrRecipientUnreachable) {
			out.FailedUnreachable++
			if perr := e.dir.PruneUnreachable(context.WithoutCancel(ctx), id); perr != nil {
				e.log.Warn("prune failed", logx.Int64("user", id), logx.Err(perr))
			}
			continue
		}

		out.FailedOther++
		e.log.Warn("broadcast send failed", logx.Int64("user", id), logx.Err(err))
	}
	return out
}

// renderer matches the draft's content kind once and returns the per-recipient
// send function for that variant.
func (e *Engine) renderer(draft DraftMessage, footer string) func(ctx context.Context, to kit.ChatTarget) error {
	opt := &kit.SendOptions{
		Buttons: draft.Buttons,
		Protect: draft.Protect,
	}
	text := withFooter(draft.Text, footer)

	switch draft.Kind {
	case ContentPhoto:
		media := kit.Media{FileID: draft.MediaRef, Caption: text}
		if len(draft.WatermarkedJPEG) > 0 {
			media = kit.Media{Data: draft.WatermarkedJPEG, Caption: text}
		}
		return func(ctx context.Context, to kit.ChatTarget) error {
			_, err := e.sink.SendPhoto(ctx, to, media, opt)
			return err
		}
	case ContentVideo:
		media := kit.Media{FileID: draft.MediaRef, Caption: text}
		return func(ctx context.Context, to kit.ChatTarget) error {
			_, err := e.sink.SendVideo(ctx, to, media, opt)
			return err
		}
	case ContentDocument:
		media := kit.Media{FileID: draft.MediaRef, Caption: text}
		return func(ctx context.Context, to kit.ChatTarget) error {
			_, err := e.sink.SendDocument(ctx, to, media, opt)
			return err
		}
	default:
		return func(ctx context.Context, to kit.ChatTarget) error {
			_, err := e.sink.SendText(ctx, to, text, opt)
			return err
		}
	}
}

func withFooter(text, footer string) string {
	footer = strings.TrimSpace(footer)
	if footer == "" {
		return text
	}
	if strings.TrimSpace(text) == "" {
		return footer
	}
	return text + "\n\n" + footer
}
