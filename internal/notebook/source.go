package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Source is a cell's text. nbformat allows either a single string or a list of
// line strings; the shape is remembered so a rewritten cell keeps it.
type Source struct {
	text  string
	lines bool
}

// NewSource returns a single-string source.
func NewSource(text string) Source {
	return Source{text: text}
}

// NewLineSource returns a line-list source. Lines are joined verbatim, so each
// line is expected to carry its own trailing newline.
func NewLineSource(lines ...string) Source {
	return Source{text: strings.Join(lines, ""), lines: true}
}

// String returns the normalised text.
func (s Source) String() string { return s.text }

// IsLines reports whether the source was stored as a line list.
func (s Source) IsLines() bool { return s.lines }

// Set replaces the text, keeping the storage shape.
func (s *Source) Set(text string) { s.text = text }

// Lines splits the text nbformat-style: every line keeps its "\n" except
// possibly the last.
func (s Source) Lines() []string {
	if s.text == "" {
		return []string{}
	}
	parts := strings.SplitAfter(s.text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Source) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = Source{}
	case len(data) > 0 && data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = Source{text: text}
	case len(data) > 0 && data[0] == '[':
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return err
		}
		*s = NewLineSource(lines...)
	default:
		return fmt.Errorf("source must be a string or a list of strings")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Source) MarshalJSON() ([]byte, error) {
	if s.lines {
		return marshalNoEscape(s.Lines())
	}
	return marshalNoEscape(s.text)
}
