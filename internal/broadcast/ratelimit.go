package broadcast

import (
	"context"
	"fmt"
	"time"

	"broadcastbot/internal/storage"
)

// Cooldown between sends, by operator role. Single slot only: the last
// qualifying action starts the clock, there is no burst allowance.
var roleCooldowns = map[Role]time.Duration{
	RoleSuperAdmin:  30 * time.Second,
	RoleAdmin:       300 * time.Second,
	RoleModerator:   180 * time.Second,
	RoleBroadcaster: 600 * time.Second,
}

const defaultCooldown = 300 * time.Second

// qualifying audit actions: direct sends, approved sends, and submissions.
var cooldownActions = []string{ActionBroadcastSend, ActionApprovedSend, ActionBroadcastSubmit}

// RateLimiter enforces the per-role send cooldown against the audit log.
//
// The check-then-log sequence is not atomic: two truly parallel submissions
// from the same operator could both pass. Accepted for a single
// operator-initiated action.
type RateLimiter struct {
	store storage.Store
	now   func() time.Time
}

func NewRateLimiter(store storage.Store) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

func CooldownFor(role Role) time.Duration {
	if d, ok := roleCooldowns[role]; ok {
		return d
	}
	return defaultCooldown
}

// CanSend reports whether the operator's cooldown has elapsed. When it has
// not, wait holds the remaining time formatted as minutes:seconds.
func (r *RateLimiter) CanSend(ctx context.Context, operatorID int64, role Role) (allowed bool, wait string, err error) {
	last, ok, err := r.store.LastAuditAt(ctx, operatorID, cooldownActions)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return true, "", nil
	}
	cooldown := CooldownFor(role)
	elapsed := r.now().Sub(last)
	if elapsed >= cooldown {
		return true, "", nil
	}
	return false, formatWait(cooldown - elapsed), nil
}

func formatWait(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
