package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

// Operator identifies the acting privileged user.
type Operator struct {
	ID   int64
	Name string
	Role Role
}

// Resolver is the audience-resolution slice of the directory.
type Resolver interface {
	ResolveSegment(ctx context.Context, seg Segment) ([]int64, error)
}

// Event payloads published on the bus. Subscribers handle reviewer pings,
// creator notifications, and duty credit; the orchestrator never calls
// those collaborators directly.
type (
	ApprovalCreatedEvent struct {
		Request ApprovalRequest
	}
	ApprovalDecidedEvent struct {
		Request ApprovalRequest
		Outcome *DeliveryOutcome // nil on rejection
	}
	BroadcastSentEvent struct {
		Actor   int64
		Segment Segment
		Outcome DeliveryOutcome
	}
	DutyCreditEvent struct {
		ActorID    int64
		ActionKind string
	}
)

// Orchestrator composes the gate, limiter, approval store, scheduler, and
// delivery engine into the immediate, approval-gated, and scheduled paths.
type Orchestrator struct {
	gate      *QualityGate
	limiter   *RateLimiter
	approvals *ApprovalStore
	scheduler *Scheduler
	engine    *Engine
	resolver  Resolver
	store     storage.Store
	bus       eventbus.Bus
	log       logx.Logger

	pollMu   sync.Mutex
	cron     *cron.Cron
	interval time.Duration
}

type OrchestratorDeps struct {
	Gate      *QualityGate
	Limiter   *RateLimiter
	Approvals *ApprovalStore
	Scheduler *Scheduler
	Engine    *Engine
	Resolver  Resolver
	Store     storage.Store
	Bus       eventbus.Bus
	Log       logx.Logger

	// PollInterval is the scheduler poll cadence (default 60s).
	PollInterval time.Duration
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 60 * time.Second
	}
	return &Orchestrator{
		gate:      d.Gate,
		limiter:   d.Limiter,
		approvals: d.Approvals,
		scheduler: d.Scheduler,
		engine:    d.Engine,
		resolver:  d.Resolver,
		store:     d.Store,
		bus:       d.Bus,
		log:       d.Log,
		interval:  d.PollInterval,
	}
}

// gateAndLimit runs the shared quality + cooldown checks. No side effects on
// failure.
func (o *Orchestrator) gateAndLimit(ctx context.Context, op Operator, draft DraftMessage) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	if violations := o.gate.Check(draft); len(violations) > 0 {
		return &QualityError{Violations: violations}
	}
	allowed, wait, err := o.limiter.CanSend(ctx, op.ID, op.Role)
	if err != nil {
		return fmt.Errorf("rate check: %w", err)
	}
	if !allowed {
		return &RateLimitError{Wait: wait}
	}
	return nil
}

// SendNow runs the immediate path for operators with direct-send permission.
func (o *Orchestrator) SendNow(ctx context.Context, op Operator, draft DraftMessage, seg Segment) (DeliveryOutcome, error) {
	if err := o.gateAndLimit(ctx, op, draft); err != nil {
		return DeliveryOutcome{}, err
	}

	recipients, err := o.resolver.ResolveSegment(ctx, seg)
	if err != nil {
		return DeliveryOutcome{}, fmt.Errorf("resolve segment: %w", err)
	}

	out := o.engine.Deliver(ctx, draft, recipients, NotifyBroadcast)

	o.audit(ctx, storage.AuditEntry{
		ActorID:   op.ID,
		ActorName: op.Name,
		Action:    ActionBroadcastSend,
		Target:    string(seg),
		OK:        out.Succeeded,
		Fail:      out.FailedUnreachable + out.FailedOther,
	})
	o.bus.Publish(eventbus.Event{Topic: eventbus.TopicBroadcastSent,
		Data: BroadcastSentEvent{Actor: op.ID, Segment: seg, Outcome: out}})
	o.bus.Publish(eventbus.Event{Topic: eventbus.TopicDutyCredit,
		Data: DutyCreditEvent{ActorID: op.ID, ActionKind: ActionBroadcastSend}})

	o.log.Info("broadcast delivered",
		logx.Int64("operator", op.ID),
		logx.String("segment", string(seg)),
		logx.String("outcome", out.String()))
	return out, nil
}

// Submit runs the approval-required path for operators without direct-send
// permission.
func (o *Orchestrator) Submit(ctx context.Context, op Operator, kind ReviewKind, draft DraftMessage, seg Segment) (string, error) {
	if err := o.gateAndLimit(ctx, op, draft); err != nil {
		return "", err
	}

	id, err := o.approvals.Create(ctx, kind, draft, seg, op.ID, op.Name)
	if err != nil {
		return "", err
	}

	o.audit(ctx, storage.AuditEntry{
		ActorID:   op.ID,
		ActorName: op.Name,
		Action:    ActionBroadcastSubmit,
		Target:    id,
	})

	req, err := o.approvals.Get(ctx, id)
	if err == nil {
		o.bus.Publish(eventbus.Event{Topic: eventbus.TopicApprovalCreated,
			Data: ApprovalCreatedEvent{Request: req}})
	}
	return id, nil
}

// Approve delivers an approved submission and finalizes the record.
func (o *Orchestrator) Approve(ctx context.Context, reviewer Operator, id string) (DeliveryOutcome, error) {
	req, err := o.approvals.Get(ctx, id)
	if err != nil {
		return DeliveryOutcome{}, err
	}
	if req.Status != StatusPending {
		return DeliveryOutcome{}, ErrAlreadyDecided
	}

	req, err = o.approvals.Transition(ctx, id, StatusApproved, reviewer.ID, "")
	if err != nil {
		return DeliveryOutcome{}, err
	}

	recipients, err := o.resolver.ResolveSegment(ctx, req.Segment)
	if err != nil {
		return DeliveryOutcome{}, fmt.Errorf("resolve segment: %w", err)
	}

	out := o.engine.Deliver(ctx, req.Draft, recipients, notificationKindFor(req.Kind))

	o.audit(ctx, storage.AuditEntry{
		ActorID:   req.CreatedBy,
		ActorName: req.CreatorName,
		Action:    ActionApprovedSend,
		Target:    id,
		OK:        out.Succeeded,
		Fail:      out.FailedUnreachable + out.FailedOther,
	})
	o.bus.Publish(eventbus.Event{Topic: eventbus.TopicApprovalDecided,
		Data: ApprovalDecidedEvent{Request: req, Outcome: &out}})
	o.bus.Publish(eventbus.Event{Topic: eventbus.TopicDutyCredit,
		Data: DutyCreditEvent{ActorID: reviewer.ID, ActionKind: ActionApprovalDecision}})

	o.log.Info("approved broadcast delivered",
		logx.String("id", id),
		logx.Int64("reviewer", reviewer.ID),
		logx.String("outcome", out.String()))
	return out, nil
}

// Reject finalizes a rejection. No delivery happens.
func (o *Orchestrator) Reject(ctx context.Context, reviewer Operator, id, reason string) error {
	req, err := o.approvals.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return ErrAlreadyDecided
	}

	req, err = o.approvals.Transition(ctx, id, StatusRejected, reviewer.ID, reason)
	if err != nil {
		return err
	}

	o.bus.Publish(eventbus.Event{Topic: eventbus.TopicApprovalDecided,
		Data: ApprovalDecidedEvent{Request: req}})
	o.bus.Publish(eventbus.Event{Topic: eventbus.TopicDutyCredit,
		Data: DutyCreditEvent{ActorID: reviewer.ID, ActionKind: ActionApprovalDecision}})
	return nil
}

// Schedule persists a future dispatch from composer output.
func (o *Orchestrator) Schedule(ctx context.Context, op Operator, draft DraftMessage, seg Segment, at time.Time, rec Recurrence) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	if violations := o.gate.Check(draft); len(violations) > 0 {
		return "", &QualityError{Violations: violations}
	}

	id, err := o.scheduler.Create(ctx, draft, at, rec, op.ID, seg)
	if err != nil {
		return "", err
	}
	o.audit(ctx, storage.AuditEntry{
		ActorID:   op.ID,
		ActorName: op.Name,
		Action:    ActionScheduleCreate,
		Target:    id,
	})
	return id, nil
}

// RunDuePoll processes every due schedule independently: one item's failure
// never blocks the rest, and the schedule advances regardless of delivery
// outcome (best effort, no same-cycle retry).
func (o *Orchestrator) RunDuePoll(ctx context.Context) {
	due, err := o.scheduler.DueNow(ctx)
	if err != nil {
		o.log.Warn("schedule poll failed", logx.Err(err))
		return
	}
	for _, item := range due {
		o.dispatchDue(ctx, item)
	}
}

func (o *Orchestrator) dispatchDue(ctx context.Context, item ScheduledBroadcast) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic dispatching scheduled broadcast",
				logx.String("id", item.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	recipients, err := o.resolver.ResolveSegment(ctx, item.Segment)
	if err != nil {
		o.log.Warn("scheduled dispatch: resolve failed", logx.String("id", item.ID), logx.Err(err))
	} else {
		out := o.engine.Deliver(ctx, item.Draft, recipients, NotifyBroadcast)
		o.audit(ctx, storage.AuditEntry{
			ActorID: item.CreatedBy,
			Action:  ActionBroadcastSend,
			Target:  item.ID,
			OK:      out.Succeeded,
			Fail:    out.FailedUnreachable + out.FailedOther,
		})
		o.bus.Publish(eventbus.Event{Topic: eventbus.TopicBroadcastSent,
			Data: BroadcastSentEvent{Actor: item.CreatedBy, Segment: item.Segment, Outcome: out}})
		o.log.Info("scheduled broadcast dispatched",
			logx.String("id", item.ID),
			logx.String("outcome", out.String()))
	}

	// Advance even when delivery failed; the record must never get stuck.
	if err := o.scheduler.OnDispatched(ctx, item.ID, item.Recurrence); err != nil {
		o.log.Error("schedule advance failed", logx.String("id", item.ID), logx.Err(err))
	}
}

// StartPoll begins the fixed-interval scheduler poll.
func (o *Orchestrator) StartPoll(ctx context.Context) {
	o.pollMu.Lock()
	defer o.pollMu.Unlock()
	if o.cron != nil {
		return
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", o.interval)
	if _, err := c.AddFunc(spec, func() { o.RunDuePoll(ctx) }); err != nil {
		o.log.Error("schedule poll registration failed", logx.Err(err))
		return
	}
	c.Start()
	o.cron = c
	o.log.Info("schedule poll started", logx.Duration("interval", o.interval))
}

func (o *Orchestrator) StopPoll() {
	o.pollMu.Lock()
	c := o.cron
	o.cron = nil
	o.pollMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (o *Orchestrator) audit(ctx context.Context, e storage.AuditEntry) {
	if err := o.store.AppendAudit(ctx, e); err != nil {
		o.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func notificationKindFor(k ReviewKind) NotificationKind {
	if k == ReviewSignal {
		return NotifySignal
	}
	return NotifyBroadcast
}
