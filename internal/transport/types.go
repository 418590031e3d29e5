package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateMedia    UpdateKind = "media"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string

	// Media is set for photo/video/document messages (Kind == UpdateMedia).
	Media *MediaAttachment
}

type MediaAttachment struct {
	Kind    MediaKind
	FileID  string
	Caption string
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is a single inline URL button.
type Button struct {
	Label string
	URL   string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Protect        bool // disallow forwarding/saving on the platform

	// Buttons are rendered as an inline keyboard, one button per row.
	Buttons []Button

	// ReplyMarkupAdapter carries adapter-specific markup
	// (Telegram: *telebot.ReplyMarkup). Takes precedence over Buttons.
	ReplyMarkupAdapter any
}

// ErrRecipientUnreachable marks permanent per-recipient send failures:
// the recipient blocked the bot, was deactivated, the chat no longer
// exists, or the platform returned a forbidden response. Senders should
// drop such recipients rather than retry.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Sink delivers outbound content. One method per content kind; media
// is addressed either by platform file id (FileID) or raw bytes (Data).
type Sink interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
}

// Media is an outbound media payload. FileID and Data are mutually
// exclusive; FileID wins when both are set.
type Media struct {
	FileID  string
	Data    []byte
	Name    string
	Caption string
}

// Adapter is the full platform client: update intake plus the Sink.
type Adapter interface {
	Sink

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
