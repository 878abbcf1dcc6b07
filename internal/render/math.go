// Package render turns the markdown answer of a flashcard into the HTML stored
// on the back of an Anki note.
package render

import (
	"regexp"
	"strings"
)

// Anki's MathJax delimiters.
const (
	displayOpen  = `\[`
	displayClose = `\]`
	inlineOpen   = `\(`
	inlineClose  = `\)`
)

// escapeMarker precedes a dollar sign that is not a math delimiter. The
// markdown renderer is configured to emit it for every escaped dollar.
const escapeMarker = `\`

// blockMathRe matches a $$...$$ span occupying a whole line. The renderer
// wraps a lone line in <p>...</p>, which still counts as the line boundary.
var blockMathRe = regexp.MustCompile(`(?m)^(?:<p>)?(\$\$.+\$\$)(?:</p>)?$`)

// RenderMath rewrites Jupyter math delimiters into Anki's. Block math is
// rewritten first, then inline math, then escaped dollars are unwrapped; the
// inline pass has to see the escape markers before they disappear.
func RenderMath(html string) string {
	html = ReplaceBlockMath(html)
	html = ReplaceInlineMath(html)
	return UnescapeDollars(html)
}

// ReplaceBlockMath rewrites line-bounded $$...$$ into \[...\].
func ReplaceBlockMath(s string) string {
	matches := blockMathRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		b.WriteString(s[last:start])
		b.WriteString(displayOpen)
		b.WriteString(s[start+2 : end-2])
		b.WriteString(displayClose)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// span is a half-open byte range [start, end) of an inline math match,
// delimiters included.
type span struct{ start, end int }

// ReplaceInlineMath rewrites $...$ into \(...\). A dollar preceded by the
// escape marker never opens a span. The interior is non-empty, lazy and
// single-line.
func ReplaceInlineMath(s string) string {
	spans := findInlineMath(s)
	if len(spans) == 0 {
		return s
	}
	out := []byte(s)
	// Each rewrite grows the text, so later spans are patched first to keep
	// the recorded offsets of earlier ones valid.
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		out = splice(out, sp.end-1, sp.end, inlineClose)
		out = splice(out, sp.start, sp.start+1, inlineOpen)
	}
	return string(out)
}

func findInlineMath(s string) []span {
	var spans []span
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || (i > 0 && strings.HasSuffix(s[:i], escapeMarker)) {
			continue
		}
		end := closingDollar(s, i+2)
		if end < 0 {
			continue
		}
		spans = append(spans, span{start: i, end: end + 1})
		i = end
	}
	return spans
}

// closingDollar returns the index of the first '$' at or after from that is
// reachable without crossing a line break, or -1.
func closingDollar(s string, from int) int {
	if from > len(s) || strings.Contains(s[from-1:from], "\n") {
		return -1
	}
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\n':
			return -1
		case '$':
			return j
		}
	}
	return -1
}

func splice(b []byte, start, end int, repl string) []byte {
	out := make([]byte, 0, len(b)-(end-start)+len(repl))
	out = append(out, b[:start]...)
	out = append(out, repl...)
	return append(out, b[end:]...)
}

// UnescapeDollars replaces every escaped dollar with a bare one.
func UnescapeDollars(s string) string {
	return strings.ReplaceAll(s, escapeMarker+"$", "$")
}
