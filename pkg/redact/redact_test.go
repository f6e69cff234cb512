package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "reach me at a@b.com or +62 812 3456 7890, portfolio https://me.dev/work"
	got := Text(in)
	for _, want := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_URL]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestPreviewTruncates(t *testing.T) {
	SetEnabled(false)
	got := Preview("  I shipped a caching layer  ", 9)
	if got != "I shipped…" {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := Preview("short", 40); got != "short" {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestTagsMasksOnlyTextTags(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := map[string]string{
		"transcript": "mail me at a@b.com",
		"session_id": "a@b.com",
		"phase":      "listening",
	}
	got := Tags(in)
	if got["transcript"] != "mail me at [REDACTED_EMAIL]" {
		t.Fatalf("expected transcript masked, got %q", got["transcript"])
	}
	if got["session_id"] != "a@b.com" || got["phase"] != "listening" {
		t.Fatalf("expected non-text tags untouched, got %v", got)
	}
	if in["transcript"] != "mail me at a@b.com" {
		t.Fatalf("expected input map unchanged")
	}
	clean := map[string]string{"phase": "listening"}
	if out := Tags(clean); len(out) != 1 || out["phase"] != "listening" {
		t.Fatalf("unexpected clean tags %v", out)
	}
}
