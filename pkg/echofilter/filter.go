// Package echofilter recognises transcript text that is the system's own
// question leaking back through the microphone.
package echofilter

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Config tunes echo detection.
type Config struct {
	// Window after listening starts during which echo is possible.
	Window time.Duration
	// OverlapThreshold is the minimum share of candidate tokens found in the question.
	OverlapThreshold float64
	// LengthMargin is how many tokens longer than the question a candidate may be.
	LengthMargin int
	// PrefixRatio and PrefixMinTokens decide when a leading run of question
	// words is long enough to strip.
	PrefixRatio     float64
	PrefixMinTokens int
}

func DefaultConfig() Config {
	return Config{
		Window:           3500 * time.Millisecond,
		OverlapThreshold: 0.74,
		LengthMargin:     4,
		PrefixRatio:      0.55,
		PrefixMinTokens:  4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.OverlapThreshold <= 0 {
		c.OverlapThreshold = d.OverlapThreshold
	}
	if c.LengthMargin < 0 {
		c.LengthMargin = d.LengthMargin
	}
	if c.PrefixRatio <= 0 {
		c.PrefixRatio = d.PrefixRatio
	}
	if c.PrefixMinTokens <= 0 {
		c.PrefixMinTokens = d.PrefixMinTokens
	}
	return c
}

type Filter struct {
	cfg Config
}

func New(cfg Config) *Filter {
	return &Filter{cfg: cfg.withDefaults()}
}

func (f *Filter) Config() Config { return f.cfg }

// IsLikelyEcho reports whether candidate is probably the question being
// heard back. Outside the echo window it is never echo.
func (f *Filter) IsLikelyEcho(candidate, question string, sinceListenStart time.Duration) bool {
	if sinceListenStart > f.cfg.Window {
		return false
	}
	cand := Tokens(candidate)
	ref := Tokens(question)
	if len(cand) == 0 || len(ref) == 0 {
		return false
	}
	if len(cand) > len(ref)+f.cfg.LengthMargin {
		return false
	}
	return OverlapRatio(cand, ref) >= f.cfg.OverlapThreshold
}

// StripLeadingEcho removes a leading run of question words from candidate
// when the run is long enough to be echo. Applying it twice gives the same
// result as applying it once.
func (f *Filter) StripLeadingEcho(candidate, question string) string {
	words := strings.Fields(candidate)
	ref := Tokens(question)
	if len(ref) == 0 {
		return strings.Join(words, " ")
	}
	need := int(math.Ceil(f.cfg.PrefixRatio * float64(len(ref))))
	if need < f.cfg.PrefixMinTokens {
		need = f.cfg.PrefixMinTokens
	}
	if need > len(ref) {
		need = len(ref)
	}
	for len(words) > 0 {
		consumed, matched := leadingMatch(words, ref)
		if matched < need {
			break
		}
		words = words[consumed:]
	}
	return strings.Join(words, " ")
}

// leadingMatch walks candidate words against the question tokens and
// returns how many words and tokens line up from the start. Punctuation-only
// words inside the run are absorbed.
func leadingMatch(words, ref []string) (consumed, matched int) {
	for i, w := range words {
		wt := Tokens(w)
		if len(wt) == 0 {
			if matched > 0 {
				consumed = i + 1
			}
			continue
		}
		if matched+len(wt) > len(ref) {
			break
		}
		ok := true
		for j, tok := range wt {
			if ref[matched+j] != tok {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		matched += len(wt)
		consumed = i + 1
	}
	return consumed, matched
}

// Normalize lowercases text and replaces everything that is not a letter
// or digit with single spaces.
func Normalize(text string) string {
	return strings.Join(Tokens(text), " ")
}

// Tokens returns the lowercase alphanumeric tokens of text.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// WordCount counts alphanumeric tokens.
func WordCount(text string) int {
	return len(Tokens(text))
}

// OverlapRatio is |candidate ∩ reference| / |candidate| over distinct tokens.
func OverlapRatio(candidate, reference []string) float64 {
	if len(candidate) == 0 || len(reference) == 0 {
		return 0
	}
	cand := make(map[string]struct{}, len(candidate))
	for _, t := range candidate {
		cand[t] = struct{}{}
	}
	ref := make(map[string]struct{}, len(reference))
	for _, t := range reference {
		ref[t] = struct{}{}
	}
	shared := 0
	for t := range cand {
		if _, ok := ref[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(cand))
}
