package config

// Config is the whole bot configuration. Files may be JSON or YAML;
// both are decoded strictly (unknown fields are rejected).
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Broadcast BroadcastConfig  `json:"broadcast"`
	Operators []OperatorConfig `json:"operators"`

	// DutyCredit configures the fire-and-forget credit callout.
	// Omitted means disabled.
	DutyCredit *DutyCreditConfig `json:"duty_credit,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // pointer: omitted defaults to true
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string; 0 means the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig tunes the delivery and scheduling behavior.
//
// All durations are Go duration strings (e.g. "50ms", "10s", "1m").
// Defaults (when fields are omitted/zero):
//   - poll_interval: "60s"
//   - send_pause: "50ms"
//   - send_timeout: "10s"
//   - rate_per_sec: 20
type BroadcastConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	SendPause    string `json:"send_pause,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`

	// OptOutFooter is appended to every delivered broadcast.
	OptOutFooter string `json:"opt_out_footer,omitempty"`

	// WatermarkLabel is the text stamped onto photos when the composer
	// applies a watermark. Empty disables the watermark step.
	WatermarkLabel string `json:"watermark_label,omitempty"`

	// SpamPhrases extends the built-in blocked phrase list.
	SpamPhrases []string `json:"spam_phrases,omitempty"`
}

type OperatorConfig struct {
	ID   int64  `json:"id"`
	Role string `json:"role"` // superadmin | admin | moderator | broadcaster
	Name string `json:"name,omitempty"`
}

type DutyCreditConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}
