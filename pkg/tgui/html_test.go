package tgui

import "testing"

func TestEsc(t *testing.T) {
	if got := Esc(`<b> & "x"`); got != H("&lt;b&gt; &amp; &#34;x&#34;") {
		t.Fatalf("got %q", got)
	}
}

func TestWrappers(t *testing.T) {
	cases := []struct {
		got  H
		want string
	}{
		{B("a<b"), "<b>a&lt;b</b>"},
		{I("x"), "<i>x</i>"},
		{Code("rm -rf"), "<code>rm -rf</code>"},
		{Link("docs", `https://x/?a=1&b=2`), `<a href="https://x/?a=1&amp;b=2">docs</a>`},
		{Mention("Ann", 7), `<a href="tg://user?id=7">Ann</a>`},
	}
	for _, tc := range cases {
		if tc.got.String() != tc.want {
			t.Fatalf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestJoinHSkipsBlanks(t *testing.T) {
	got := JoinH("\n", B("head"), "", H("  "), Esc("tail"))
	if got != H("<b>head</b>\ntail") {
		t.Fatalf("got %q", got)
	}
	if JoinH(", ") != H("") {
		t.Fatalf("empty join must be empty")
	}
}
