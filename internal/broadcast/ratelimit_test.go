package broadcast

import (
	"context"
	"testing"
	"time"

	"broadcastbot/internal/storage"
)

func limiterAt(t *testing.T, lastSend time.Time, now time.Time) *RateLimiter {
	t.Helper()
	st := newMemStore()
	if !lastSend.IsZero() {
		err := st.AppendAudit(context.Background(), storage.AuditEntry{
			At:      lastSend,
			ActorID: 1,
			Action:  ActionBroadcastSend,
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	r := NewRateLimiter(st)
	r.now = func() time.Time { return now }
	return r
}

func TestRateLimitFirstSendAllowed(t *testing.T) {
	r := limiterAt(t, time.Time{}, time.Now())
	allowed, wait, err := r.CanSend(context.Background(), 1, RoleModerator)
	if err != nil {
		t.Fatalf("CanSend: %v", err)
	}
	if !allowed || wait != "" {
		t.Fatalf("no prior send should always be allowed, got allowed=%v wait=%q", allowed, wait)
	}
}

func TestRateLimitModeratorBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		elapsed time.Duration
		allowed bool
	}{
		{179 * time.Second, false},
		{180 * time.Second, true},
		{181 * time.Second, true},
	}
	for _, tc := range cases {
		r := limiterAt(t, base, base.Add(tc.elapsed))
		allowed, _, err := r.CanSend(context.Background(), 1, RoleModerator)
		if err != nil {
			t.Fatalf("CanSend: %v", err)
		}
		if allowed != tc.allowed {
			t.Errorf("moderator after %s: allowed=%v, want %v", tc.elapsed, allowed, tc.allowed)
		}
	}
}

func TestRateLimitSuperAdminRemaining(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := limiterAt(t, base, base.Add(10*time.Second))

	allowed, wait, err := r.CanSend(context.Background(), 1, RoleSuperAdmin)
	if err != nil {
		t.Fatalf("CanSend: %v", err)
	}
	if allowed {
		t.Fatalf("superadmin 10s after a send must still be cooling down")
	}
	if wait != "0:20" {
		t.Fatalf("remaining wait = %q, want 0:20", wait)
	}
}

func TestRateLimitUnknownRoleDefault(t *testing.T) {
	if got := CooldownFor(Role("visitor")); got != defaultCooldown {
		t.Fatalf("unknown role cooldown = %v, want %v", got, defaultCooldown)
	}
	if got := CooldownFor(RoleBroadcaster); got != 600*time.Second {
		t.Fatalf("broadcaster cooldown = %v, want 600s", got)
	}
}

func TestRateLimitCountsSubmissions(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newMemStore()
	_ = st.AppendAudit(context.Background(), storage.AuditEntry{
		At: base, ActorID: 1, Action: ActionBroadcastSubmit,
	})
	r := NewRateLimiter(st)
	r.now = func() time.Time { return base.Add(time.Minute) }

	allowed, _, err := r.CanSend(context.Background(), 1, RoleModerator)
	if err != nil {
		t.Fatalf("CanSend: %v", err)
	}
	if allowed {
		t.Fatalf("a submission must start the cooldown like a direct send")
	}
}

func TestFormatWait(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{20 * time.Second, "0:20"},
		{90 * time.Second, "1:30"},
		{600 * time.Second, "10:00"},
		{5 * time.Second, "0:05"},
	}
	for _, tc := range cases {
		if got := formatWait(tc.d); got != tc.want {
			t.Errorf("formatWait(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
