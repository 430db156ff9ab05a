package terminal

import "strings"

// Aggregate renders chunks into the text a terminal would finally show.
// A replace token discards the current unterminated line.
func Aggregate(chunks ...string) string {
	var a Aggregator
	for _, c := range chunks {
		a.WriteString(c)
	}
	return a.String()
}

// Aggregator folds output into its rendered text as it arrives. Completed
// lines are never rescanned.
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	scanner *Scanner
	done    strings.Builder
	line    strings.Builder
}

// WriteString feeds one chunk of raw output.
func (a *Aggregator) WriteString(chunk string) {
	if a.scanner == nil {
		a.scanner = NewScanner()
	}
	for _, tok := range a.scanner.Feed(chunk) {
		if tok.Kind == Replace {
			a.line.Reset()
		}
		a.line.WriteString(tok.Text)
		if strings.HasSuffix(tok.Text, "\n") {
			a.done.WriteString(a.line.String())
			a.line.Reset()
		}
	}
}

// String returns the rendered text, including text the scanner still
// holds.
func (a *Aggregator) String() string {
	if a.scanner == nil || a.scanner.buf.Len() == 0 {
		return a.done.String() + a.line.String()
	}
	pending := a.scanner.buf.String()
	if a.scanner.kind == Replace {
		return a.done.String() + pending
	}
	return a.done.String() + a.line.String() + pending
}
