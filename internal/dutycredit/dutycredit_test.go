package dutycredit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/eventbus"
	logx "broadcastbot/pkg/logx"
)

func TestPostsCreditsFromBus(t *testing.T) {
	received := make(chan creditPayload, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var p creditPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("bad payload %q: %v", body, err)
		}
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := eventbus.New()
	c := New(Config{Enabled: true, URL: srv.URL}, bus, logx.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{
		Topic: eventbus.TopicDutyCredit,
		Time:  at,
		Data:  broadcast.DutyCreditEvent{ActorID: 42, ActionKind: "broadcast.send"},
	})
	// Unrelated topics must be ignored.
	bus.Publish(eventbus.Event{Topic: eventbus.TopicBroadcastSent, Data: "noise"})

	select {
	case p := <-received:
		if p.ActorID != 42 || p.Action != "broadcast.send" {
			t.Fatalf("payload = %+v", p)
		}
		if p.At != at.Format(time.RFC3339) {
			t.Fatalf("at = %q", p.At)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no credit received")
	}
	select {
	case p := <-received:
		t.Fatalf("unexpected extra post: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisabledStartIsNoop(t *testing.T) {
	c := New(Config{Enabled: false}, eventbus.New(), logx.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartWithoutURLFails(t *testing.T) {
	c := New(Config{Enabled: true}, eventbus.New(), logx.Nop())
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("enabled client without url must refuse to start")
	}
}

func TestStopWaitsForWorker(t *testing.T) {
	bus := eventbus.New()
	c := New(Config{Enabled: true, URL: "http://127.0.0.1:0"}, bus, logx.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second Stop is a no-op.
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
