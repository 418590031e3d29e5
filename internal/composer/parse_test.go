package composer

import (
	"testing"
	"time"
)

func TestParseButtonLines(t *testing.T) {
	got, err := ParseButtonLines("Visit | https://example.com\nDocs | http://docs.example.com")
	if err != nil {
		t.Fatalf("ParseButtonLines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(got))
	}
	if got[0].Label != "Visit" || got[0].URL != "https://example.com" {
		t.Fatalf("first button wrong: %+v", got[0])
	}
}

func TestParseButtonLinesAllOrNothing(t *testing.T) {
	bad := []string{
		"Visit | https://example.com\nbroken line",
		"Visit | ftp://example.com",
		" | https://example.com",
		"Visit |",
		"",
	}
	for _, in := range bad {
		if _, err := ParseButtonLines(in); err == nil {
			t.Errorf("ParseButtonLines(%q) should fail", in)
		}
	}
}

func TestParseScheduleTimeAbsolute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseScheduleTime("2026-03-02 09:30", now)
	if err != nil {
		t.Fatalf("ParseScheduleTime: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := ParseScheduleTime("2026-02-28 09:30", now); err == nil {
		t.Fatalf("past absolute time must be rejected")
	}
}

func TestParseScheduleTimeRelative(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1d", 24 * time.Hour},
		{"2h30m", 2*time.Hour + 30*time.Minute},
		{"1d2h30m", 26*time.Hour + 30*time.Minute},
		{"45m", 45 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseScheduleTime(tc.in, now)
		if err != nil {
			t.Errorf("ParseScheduleTime(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(now.Add(tc.want)) {
			t.Errorf("ParseScheduleTime(%q) = %v, want now+%v", tc.in, got, tc.want)
		}
	}
}

func TestParseScheduleTimeRejectsJunk(t *testing.T) {
	now := time.Now()
	for _, in := range []string{"", "soon", "0m", "2026-03-02", "12:00"} {
		if _, err := ParseScheduleTime(in, now); err == nil {
			t.Errorf("ParseScheduleTime(%q) should fail", in)
		}
	}
}
