package router

import (
	"strings"
	"testing"
	"time"

	"castbot/internal/storage"
	"castbot/internal/transport"
)

func TestPreview(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "short"},
		{"line\none\nline two", "line one line two"},
		{strings.Repeat("a", 60), strings.Repeat("a", 40) + "…"},
		{strings.Repeat("я", 60), strings.Repeat("я", 40) + "…"},
	}
	for _, tc := range cases {
		if got := preview(tc.in); got != tc.want {
			t.Errorf("preview(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPending(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	if got := formatPending(nil, loc); !strings.Contains(got, "нет") {
		t.Fatalf("empty listing = %q", got)
	}

	rows := []storage.Broadcast{
		{ID: 1, Content: transport.Content{Text: "текстовый анонс"}, SendAt: at},
		{ID: 2, Content: transport.Content{MediaRef: "f", MediaKind: transport.MediaPhoto}, SendAt: at.Add(time.Hour)},
	}
	got := formatPending(rows, loc)
	for _, want := range []string{"#1", "2026-03-01 12:30", "текстовый анонс", "#2", "[photo]", "13:30"} {
		if !strings.Contains(got, want) {
			t.Fatalf("listing missing %q:\n%s", want, got)
		}
	}
	if strings.HasSuffix(got, "\n") {
		t.Fatal("listing has a trailing newline")
	}
}
