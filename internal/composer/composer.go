package composer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"broadcastbot/internal/broadcast"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// Mode selects the entry path.
type Mode int

const (
	ModeImmediate Mode = iota
	ModeScheduled
)

// Step is the current state of a composition session.
type Step int

const (
	StepChoosePlatform Step = iota // immediate entry path only
	StepAwaitContent
	StepAwaitWatermark
	StepAwaitButtonsChoice
	StepAwaitButtonsText
	StepAwaitProtection
	StepAwaitScheduleTime
	StepAwaitRecurrence
	StepAwaitAudience
)

// Callback payloads for choice steps.
const (
	ChoicePlatformTelegram = "cp:tg"
	ChoicePlatformMirror   = "cp:mirror"
	ChoiceWatermarkYes     = "wm:y"
	ChoiceWatermarkNo      = "wm:n"
	ChoiceButtonsYes       = "bt:y"
	ChoiceButtonsNo        = "bt:n"
	ChoiceProtectYes       = "pr:y"
	ChoiceProtectNo        = "pr:n"
	ChoiceRecurrencePrefix = "rc:"
	ChoiceAudiencePrefix   = "aud:"
)

type InputKind int

const (
	InputText InputKind = iota
	InputMedia
	InputChoice
)

// Input is one operator interaction forwarded by the router.
type Input struct {
	Kind   InputKind
	Text   string
	Media  *kit.MediaAttachment
	Choice string
}

type Choice struct{ Label, Data string }

// Prompt is what the router should show next. Choices render as an inline
// keyboard, one per row.
type Prompt struct {
	Text    string
	Choices []Choice
}

// Submission is the composer's terminal output.
type Submission struct {
	Draft            broadcast.DraftMessage
	Segment          broadcast.Segment
	Mode             Mode
	DispatchAt       time.Time
	Recurrence       broadcast.Recurrence
	RequiresApproval bool
	Platform         string
}

// Result of handling one input: either the next prompt or a submission.
// Notice carries incidental feedback ("added 2 buttons").
type Result struct {
	Prompt     *Prompt
	Submission *Submission
	Notice     string
}

// session holds one operator's partial state. Created on start, discarded
// on submit or cancel; nothing escapes it before submission.
type session struct {
	op         broadcast.Operator
	mode       Mode
	step       Step
	platform   string
	draft      broadcast.DraftMessage
	dispatchAt time.Time
	recurrence broadcast.Recurrence
}

// FileFetcher downloads platform media so the watermark can be applied.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Composer owns all active composition sessions.
type Composer struct {
	mu       sync.Mutex
	sessions map[int64]*session

	files FileFetcher
	// watermarkLabel returns the configured stamp text; empty disables the
	// watermark step entirely.
	watermarkLabel func() string
	log            logx.Logger
}

func New(files FileFetcher, watermarkLabel func() string, log logx.Logger) *Composer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if watermarkLabel == nil {
		watermarkLabel = func() string { return "" }
	}
	return &Composer{
		sessions:       map[int64]*session{},
		files:          files,
		watermarkLabel: watermarkLabel,
		log:            log,
	}
}

// Start opens a new session for the operator, replacing any previous one.
func (c *Composer) Start(op broadcast.Operator, mode Mode) Prompt {
	s := &session{op: op, mode: mode}
	if mode == ModeImmediate {
		s.step = StepChoosePlatform
	} else {
		s.step = StepAwaitContent
		s.platform = "telegram"
	}
	c.mu.Lock()
	c.sessions[op.ID] = s
	c.mu.Unlock()
	return c.prompt(s)
}

// Active reports whether the operator has an open session.
func (c *Composer) Active(operatorID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[operatorID]
	return ok
}

// Cancel discards all partial state. It has no other side effects.
func (c *Composer) Cancel(operatorID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[operatorID]; !ok {
		return false
	}
	delete(c.sessions, operatorID)
	return true
}

// Handle advances the operator's session with one input. Invalid input
// re-prompts without advancing. A Submission result clears the session.
func (c *Composer) Handle(ctx context.Context, operatorID int64, in Input) (Result, error) {
	c.mu.Lock()
	s, ok := c.sessions[operatorID]
	c.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("no active composition for operator %d", operatorID)
	}

	res, err := c.advance(ctx, s, in)
	if err != nil {
		return Result{}, err
	}
	if res.Submission != nil {
		c.mu.Lock()
		delete(c.sessions, operatorID)
		c.mu.Unlock()
	}
	return res, nil
}

func (c *Composer) advance(ctx context.Context, s *session, in Input) (Result, error) {
	switch s.step {
	case StepChoosePlatform:
		return c.onPlatform(s, in), nil
	case StepAwaitContent:
		return c.onContent(s, in), nil
	case StepAwaitWatermark:
		return c.onWatermark(ctx, s, in)
	case StepAwaitButtonsChoice:
		return c.onButtonsChoice(s, in), nil
	case StepAwaitButtonsText:
		return c.onButtonsText(s, in), nil
	case StepAwaitProtection:
		return c.onProtection(s, in), nil
	case StepAwaitScheduleTime:
		return c.onScheduleTime(s, in), nil
	case StepAwaitRecurrence:
		return c.onRecurrence(s, in), nil
	case StepAwaitAudience:
		return c.onAudience(s, in), nil
	}
	return Result{}, fmt.Errorf("composition in unknown step %d", s.step)
}

func (c *Composer) onPlatform(s *session, in Input) Result {
	if in.Kind != InputChoice {
		return c.reprompt(s, "Pick a platform with the buttons below.")
	}
	switch in.Choice {
	case ChoicePlatformTelegram:
		s.platform = "telegram"
	case ChoicePlatformMirror:
		s.platform = "mirror"
	default:
		return c.reprompt(s, "Pick a platform with the buttons below.")
	}
	s.step = StepAwaitContent
	return Result{Prompt: c.promptPtr(s)}
}

func (c *Composer) onContent(s *session, in Input) Result {
	switch in.Kind {
	case InputText:
		if len([]rune(in.Text)) == 0 {
			return c.reprompt(s, "Send the message content: text, a photo, a video, or a document.")
		}
		s.draft = broadcast.DraftMessage{Kind: broadcast.ContentText, Text: in.Text}
	case InputMedia:
		if in.Media == nil {
			return c.reprompt(s, "Send the message content: text, a photo, a video, or a document.")
		}
		s.draft = broadcast.DraftMessage{
			Kind:     contentKindFor(in.Media.Kind),
			Text:     in.Media.Caption,
			MediaRef: in.Media.FileID,
		}
	default:
		return c.reprompt(s, "Send the message content: text, a photo, a video, or a document.")
	}

	if s.draft.Kind == broadcast.ContentPhoto && c.watermarkLabel() != "" {
		s.step = StepAwaitWatermark
	} else {
		s.step = StepAwaitButtonsChoice
	}
	return Result{Prompt: c.promptPtr(s)}
}

func (c *Composer) onWatermark(ctx context.Context, s *session, in Input) (Result, error) {
	if in.Kind != InputChoice {
		return c.reprompt(s, "Choose whether to watermark the photo."), nil
	}
	switch in.Choice {
	case ChoiceWatermarkNo:
	case ChoiceWatermarkYes:
		if c.files == nil {
			return Result{}, fmt.Errorf("media download unavailable")
		}
		data, err := c.files.FetchFile(ctx, s.draft.MediaRef)
		if err != nil {
			return Result{}, fmt.Errorf("download photo: %w", err)
		}
		stamped, err := broadcast.Watermark(data, c.watermarkLabel())
		if err != nil {
			return Result{}, fmt.Errorf("watermark photo: %w", err)
		}
		// The stamped bytes replace the original for every later step.
		s.draft.WatermarkedJPEG = stamped
		s.draft.MediaRef = ""
	default:
		return c.reprompt(s, "Choose whether to watermark the photo."), nil
	}
	s.step = StepAwaitButtonsChoice
	return Result{Prompt: c.promptPtr(s)}, nil
}

func (c *Composer) onButtonsChoice(s *session, in Input) Result {
	if in.Kind != InputChoice {
		return c.reprompt(s, "Choose whether to add inline buttons.")
	}
	switch in.Choice {
	case ChoiceButtonsYes:
		s.step = StepAwaitButtonsText
	case ChoiceButtonsNo:
		s.step = StepAwaitProtection
	default:
		return c.reprompt(s, "Choose whether to add inline buttons.")
	}
	return Result{Prompt: c.promptPtr(s)}
}

func (c *Composer) onButtonsText(s *session, in Input) Result {
	if in.Kind != InputText {
		return c.reprompt(s, "Send button lines as \"label | url\", or /skip.")
	}
	if in.Text == "/skip" {
		s.step = StepAwaitProtection
		return Result{Prompt: c.promptPtr(s)}
	}
	buttons, err := ParseButtonLines(in.Text)
	if err != nil {
		return c.reprompt(s, fmt.Sprintf("Couldn't parse buttons (%v). Send lines as \"label | url\", or /skip.", err))
	}
	s.draft.Buttons = buttons
	s.step = StepAwaitProtection
	return Result{
		Prompt: c.promptPtr(s),
		Notice: fmt.Sprintf("Added %d button(s).", len(buttons)),
	}
}

func (c *Composer) onProtection(s *session, in Input) Result {
	if in.Kind != InputChoice {
		return c.reprompt(s, "Choose whether to protect the content from forwarding.")
	}
	switch in.Choice {
	case ChoiceProtectYes:
		s.draft.Protect = true
	case ChoiceProtectNo:
		s.draft.Protect = false
	default:
		return c.reprompt(s, "Choose whether to protect the content from forwarding.")
	}
	if s.mode == ModeScheduled {
		s.step = StepAwaitScheduleTime
	} else {
		s.step = StepAwaitAudience
	}
	return Result{Prompt: c.promptPtr(s)}
}

func (c *Composer) onScheduleTime(s *session, in Input) Result {
	if in.Kind != InputText {
		return c.reprompt(s, "Send the dispatch time.")
	}
	t, err := ParseScheduleTime(in.Text, time.Now())
	if err != nil {
		return c.reprompt(s, fmt.Sprintf("Couldn't parse the time (%v).", err))
	}
	s.dispatchAt = t
	s.step = StepAwaitRecurrence
	return Result{Prompt: c.promptPtr(s)}
}

func (c *Composer) onRecurrence(s *session, in Input) Result {
	if in.Kind != InputChoice || len(in.Choice) <= len(ChoiceRecurrencePrefix) {
		return c.reprompt(s, "Pick a recurrence with the buttons below.")
	}
	rec, err := broadcast.ParseRecurrence(in.Choice[len(ChoiceRecurrencePrefix):])
	if err != nil {
		return c.reprompt(s, "Pick a recurrence with the buttons below.")
	}
	s.recurrence = rec
	s.step = StepAwaitAudience
	return Result{Prompt: c.promptPtr(s)}
}

func (c *Composer) onAudience(s *session, in Input) Result {
	if in.Kind != InputChoice || len(in.Choice) <= len(ChoiceAudiencePrefix) {
		return c.reprompt(s, "Pick an audience with the buttons below.")
	}
	seg, err := broadcast.ParseSegment(in.Choice[len(ChoiceAudiencePrefix):])
	if err != nil {
		return c.reprompt(s, "Pick an audience with the buttons below.")
	}
	sub := &Submission{
		Draft:            s.draft,
		Segment:          seg,
		Mode:             s.mode,
		DispatchAt:       s.dispatchAt,
		Recurrence:       s.recurrence,
		RequiresApproval: !s.op.Role.CanSendDirect(),
		Platform:         s.platform,
	}
	return Result{Submission: sub}
}

func (c *Composer) reprompt(s *session, note string) Result {
	p := c.prompt(s)
	if note != "" {
		p.Text = note + "\n\n" + p.Text
	}
	return Result{Prompt: &p}
}

func (c *Composer) promptPtr(s *session) *Prompt {
	p := c.prompt(s)
	return &p
}

// prompt renders the instruction for the session's current step.
func (c *Composer) prompt(s *session) Prompt {
	switch s.step {
	case StepChoosePlatform:
		return Prompt{
			Text: "Where should this broadcast go?",
			Choices: []Choice{
				{Label: "Telegram", Data: ChoicePlatformTelegram},
				{Label: "Telegram + mirror", Data: ChoicePlatformMirror},
			},
		}
	case StepAwaitContent:
		return Prompt{Text: "Send the message you want to broadcast.\nText, photo, video, or document. /cancel to abort."}
	case StepAwaitWatermark:
		return Prompt{
			Text: "Watermark this photo?",
			Choices: []Choice{
				{Label: "Yes, add watermark", Data: ChoiceWatermarkYes},
				{Label: "No, keep original", Data: ChoiceWatermarkNo},
			},
		}
	case StepAwaitButtonsChoice:
		return Prompt{
			Text: "Add inline buttons to this message?",
			Choices: []Choice{
				{Label: "Yes, add buttons", Data: ChoiceButtonsYes},
				{Label: "No, skip", Data: ChoiceButtonsNo},
			},
		}
	case StepAwaitButtonsText:
		return Prompt{Text: "Send button lines, one per line:\nVisit site | https://example.com\n\nOr /skip to continue without buttons."}
	case StepAwaitProtection:
		return Prompt{
			Text: "Protect the content (disable forwarding and saving)?",
			Choices: []Choice{
				{Label: "Protect", Data: ChoiceProtectYes},
				{Label: "Don't protect", Data: ChoiceProtectNo},
			},
		}
	case StepAwaitScheduleTime:
		return Prompt{Text: "When should it go out?\nAbsolute: 2026-01-15 09:30\nRelative: 1d2h30m"}
	case StepAwaitRecurrence:
		return Prompt{
			Text: "How often should it repeat?",
			Choices: []Choice{
				{Label: "Once", Data: ChoiceRecurrencePrefix + string(broadcast.RecurrenceOnce)},
				{Label: "Daily", Data: ChoiceRecurrencePrefix + string(broadcast.RecurrenceDaily)},
				{Label: "Weekly", Data: ChoiceRecurrencePrefix + string(broadcast.RecurrenceWeekly)},
				{Label: "Monthly", Data: ChoiceRecurrencePrefix + string(broadcast.RecurrenceMonthly)},
			},
		}
	case StepAwaitAudience:
		return Prompt{
			Text: "Who should receive this broadcast?",
			Choices: []Choice{
				{Label: "All users", Data: ChoiceAudiencePrefix + string(broadcast.SegmentAll)},
				{Label: "Subscribers only", Data: ChoiceAudiencePrefix + string(broadcast.SegmentSubscribers)},
				{Label: "Non-subscribers only", Data: ChoiceAudiencePrefix + string(broadcast.SegmentNonSubscribers)},
				{Label: "Admins only", Data: ChoiceAudiencePrefix + string(broadcast.SegmentAdmins)},
			},
		}
	}
	return Prompt{Text: "Send /cancel and start again."}
}

func contentKindFor(k kit.MediaKind) broadcast.ContentKind {
	switch k {
	case kit.MediaPhoto:
		return broadcast.ContentPhoto
	case kit.MediaVideo:
		return broadcast.ContentVideo
	default:
		return broadcast.ContentDocument
	}
}
