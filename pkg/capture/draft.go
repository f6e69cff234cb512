package capture

import (
	"strings"

	"github.com/harunnryd/viva/pkg/echofilter"
)

// Draft is the transcript accumulated in one listening window. Committed
// holds final recognizer text; Interim is the latest partial.
type Draft struct {
	Committed string
	Interim   string
}

// Apply folds one recognizer result into the draft. Final text is appended
// to Committed, skipping words that repeat the committed tail. Interim is
// replaced on every call.
func (d Draft) Apply(final, interim string) Draft {
	if f := collapse(final); f != "" {
		d.Committed = appendDedup(d.Committed, f)
	}
	d.Interim = collapse(interim)
	return d
}

// Merged is Committed followed by whatever of Interim is not already there.
func (d Draft) Merged() string {
	if d.Interim == "" {
		return d.Committed
	}
	return appendDedup(d.Committed, d.Interim)
}

func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Committed) == "" && strings.TrimSpace(d.Interim) == ""
}

func (d Draft) WordCount() int {
	return echofilter.WordCount(d.Merged())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendDedup joins next onto base, dropping the longest run of leading
// words in next that equals the trailing words of base. Words compare by
// normalized token so case and punctuation differences still match.
func appendDedup(base, next string) string {
	if base == "" {
		return next
	}
	bw := strings.Fields(base)
	nw := strings.Fields(next)
	max := len(bw)
	if len(nw) < max {
		max = len(nw)
	}
	overlap := 0
	for k := max; k > 0; k-- {
		if sameWords(bw[len(bw)-k:], nw[:k]) {
			overlap = k
			break
		}
	}
	rest := nw[overlap:]
	if len(rest) == 0 {
		return base
	}
	return base + " " + strings.Join(rest, " ")
}

func sameWords(a, b []string) bool {
	for i := range a {
		if echofilter.Normalize(a[i]) != echofilter.Normalize(b[i]) {
			return false
		}
	}
	return true
}
