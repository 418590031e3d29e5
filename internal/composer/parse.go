package composer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	kit "broadcastbot/internal/transport"
)

// ParseButtonLines parses inline button definitions, one per line, in the
// form "label | url". Every line must parse; a single bad line rejects the
// whole input so the operator can fix and resend.
func ParseButtonLines(s string) ([]kit.Button, error) {
	var out []kit.Button
	for i, line := range strings.Split(strings.TrimSpace(s), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		label, url, ok := strings.Cut(line, "|")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"label | url\"", i+1)
		}
		label = strings.TrimSpace(label)
		url = strings.TrimSpace(url)
		if label == "" || url == "" {
			return nil, fmt.Errorf("line %d: label and url must be non-empty", i+1)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("line %d: url must start with http:// or https://", i+1)
		}
		out = append(out, kit.Button{Label: label, URL: url})
	}
	if len(out) == 0 {
		return nil, errors.New("no buttons found")
	}
	return out, nil
}

const absoluteTimeLayout = "2006-01-02 15:04"

var relativeTimeRe = regexp.MustCompile(`^(?:(\d+)d)?\s*(?:(\d+)h)?\s*(?:(\d+)m)?$`)

// ParseScheduleTime accepts either an absolute local timestamp
// ("2006-01-02 15:04") or a relative duration built from day/hour/minute
// tokens ("1d", "2h30m", "1d12h"). The result must be after now.
func ParseScheduleTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty schedule time")
	}

	if t, err := time.ParseInLocation(absoluteTimeLayout, s, now.Location()); err == nil {
		if !t.After(now) {
			return time.Time{}, errors.New("schedule time is in the past")
		}
		return t, nil
	}

	m := relativeTimeRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return time.Time{}, fmt.Errorf("cannot parse %q: use %q or tokens like 1d2h30m", s, absoluteTimeLayout)
	}
	var d time.Duration
	if m[1] != "" {
		n, _ := strconv.Atoi(m[1])
		d += time.Duration(n) * 24 * time.Hour
	}
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		d += time.Duration(n) * time.Hour
	}
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		d += time.Duration(n) * time.Minute
	}
	if d <= 0 {
		return time.Time{}, errors.New("relative schedule time must be positive")
	}
	return now.Add(d), nil
}
