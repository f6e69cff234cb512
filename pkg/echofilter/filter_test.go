package echofilter

import (
	"testing"
	"time"
)

const question = "Tell me about a challenging project"

func TestStripLeadingEcho(t *testing.T) {
	f := New(DefaultConfig())
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"echo prefix", "Tell me about a challenging project I shipped a caching layer", "I shipped a caching layer"},
		{"punctuation and case", "tell me, about a Challenging project... I shipped a caching layer", "I shipped a caching layer"},
		{"short prefix kept", "Tell me more later", "Tell me more later"},
		{"no echo", "  I shipped   a caching layer ", "I shipped a caching layer"},
		{"whole echo", "Tell me about a challenging project", ""},
		{"repeated echo", "Tell me about a challenging project tell me about a challenging project I did it", "I did it"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.StripLeadingEcho(tc.in, question); got != tc.want {
				t.Fatalf("StripLeadingEcho(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripLeadingEchoIdempotent(t *testing.T) {
	f := New(DefaultConfig())
	inputs := []string{
		"Tell me about a challenging project I shipped a caching layer",
		"Tell me about a challenging project Tell me about a challenging project",
		"about a challenging project yes",
		"",
		"I shipped a caching layer",
	}
	for _, in := range inputs {
		once := f.StripLeadingEcho(in, question)
		twice := f.StripLeadingEcho(once, question)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestIsLikelyEcho(t *testing.T) {
	f := New(DefaultConfig())
	echo := "tell me about a challenging project please"
	if !f.IsLikelyEcho(echo, question, time.Second) {
		t.Fatalf("expected echo inside the window")
	}
	if f.IsLikelyEcho(echo, question, 4*time.Second) {
		t.Fatalf("expected no echo after the window")
	}
	if f.IsLikelyEcho("I led the migration to a new billing system", question, time.Second) {
		t.Fatalf("expected a real answer not to be echo")
	}
	long := "tell me about a challenging project tell me about a challenging project again"
	if f.IsLikelyEcho(long, question, time.Second) {
		t.Fatalf("expected candidate longer than question+margin not to be echo")
	}
	if f.IsLikelyEcho("", question, 0) {
		t.Fatalf("expected empty candidate not to be echo")
	}
}

func TestOverlapRatioUsesDistinctTokens(t *testing.T) {
	got := OverlapRatio(Tokens("project project idea"), Tokens(question))
	if got != 0.5 {
		t.Fatalf("expected 0.5, got %f", got)
	}
	if OverlapRatio(nil, Tokens(question)) != 0 {
		t.Fatalf("expected 0 for empty candidate")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  Hello, World!! It's 2024 "); got != "hello world it s 2024" {
		t.Fatalf("unexpected normalize %q", got)
	}
	if WordCount("yes okay") != 2 {
		t.Fatalf("expected 2 words")
	}
}
