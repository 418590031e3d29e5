// Package dutycredit forwards broadcast activity to an external duty
// tracking endpoint. Delivery is fire-and-forget: a failed or slow
// endpoint never affects the broadcast path.
package dutycredit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/eventbus"
	logx "broadcastbot/pkg/logx"
)

type Config struct {
	Enabled bool
	URL     string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Client listens for duty credit events on the bus and posts them to the
// configured endpoint.
type Client struct {
	cfg  Config
	bus  eventbus.Bus
	http *http.Client
	log  logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		bus:  bus,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Start begins consuming duty credit events. No-op when disabled.
func (c *Client) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.URL == "" {
		return fmt.Errorf("dutycredit: enabled without url")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	ch, unsub := c.bus.Subscribe(32)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Topic != eventbus.TopicDutyCredit {
					continue
				}
				credit, ok := ev.Data.(broadcast.DutyCreditEvent)
				if !ok {
					continue
				}
				c.post(runCtx, credit, ev.Time)
			}
		}
	}()
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
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

type creditPayload struct {
	ActorID int64  `json:"actor_id"`
	Action  string `json:"action"`
	At      string `json:"at"`
}

func (c *Client) post(ctx context.Context, ev broadcast.DutyCreditEvent, at time.Time) {
	body, err := json.Marshal(creditPayload{
		ActorID: ev.ActorID,
		Action:  ev.ActionKind,
		At:      at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		c.log.Debug("duty credit request build failed", logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("duty credit post failed", logx.Err(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.log.Debug("duty credit rejected",
			logx.Int("status", resp.StatusCode),
			logx.Int64("actor", ev.ActorID))
		return
	}
	c.log.Debug("duty credit posted",
		logx.Int64("actor", ev.ActorID),
		logx.String("action", ev.ActionKind))
}
