// Package redact masks personal details candidates say aloud before a
// transcript reaches logs or artifacts.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

type rule struct {
	re   *regexp.Regexp
	mask string
}

var rules = []rule{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`(?i)\bhttps?://[^\s]+`), "[REDACTED_URL]"},
	{regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

// textTags are metric tags that may hold candidate speech.
var textTags = map[string]bool{
	"text":       true,
	"transcript": true,
	"answer":     true,
	"error":      true,
}

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails, links and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.mask)
	}
	return out
}

// Preview redacts and truncates a transcript for log lines.
func Preview(in string, max int) string {
	out := Text(strings.TrimSpace(in))
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "…"
}

// Tags returns tags with free-text values redacted. The input is not
// modified; it is returned as is when nothing needs masking.
func Tags(tags map[string]string) map[string]string {
	if !enabled.Load() || len(tags) == 0 {
		return tags
	}
	var out map[string]string
	for k, v := range tags {
		if !textTags[k] {
			continue
		}
		masked := Text(v)
		if masked == v {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(tags))
			for k2, v2 := range tags {
				out[k2] = v2
			}
		}
		out[k] = masked
	}
	if out == nil {
		return tags
	}
	return out
}
