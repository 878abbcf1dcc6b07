package render

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown converts markdown to HTML with goldmark.
//
// Contract relied on by the passes in this package:
//   - an escaped dollar (\$) comes out as \$, everything else as goldmark emits it;
//   - a paragraph consisting of one line is emitted as <p>line</p>;
//   - ![alt](attachment:name) becomes <img src="attachment:name" alt="alt">;
//   - raw HTML in the source passes through unchanged.
type Markdown struct {
	engine goldmark.Markdown
}

// NewMarkdown builds a converter with the named goldmark extensions. Unknown
// names are ignored; an empty list selects GFM.
func NewMarkdown(extensions []string) *Markdown {
	return &Markdown{
		engine: goldmark.New(
			goldmark.WithExtensions(collectExtensions(extensions)...),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Render converts src to HTML.
func (m *Markdown) Render(src string) (string, error) {
	// Double the backslash so goldmark keeps one in front of the dollar
	// instead of consuming it as a markdown escape.
	src = strings.ReplaceAll(src, escapeMarker+"$", escapeMarker+escapeMarker+"$")

	var buf bytes.Buffer
	if err := m.engine.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return buf.String(), nil
}

var extensionRegistry = map[string]goldmark.Extender{
	"gfm":           extension.GFM,
	"table":         extension.Table,
	"tables":        extension.Table,
	"strikethrough": extension.Strikethrough,
	"linkify":       extension.Linkify,
	"tasklist":      extension.TaskList,
	"definition":    extension.DefinitionList,
	"footnote":      extension.Footnote,
}

// ExtensionNames lists the extension names NewMarkdown understands, sorted.
func ExtensionNames() []string {
	names := make([]string, 0, len(extensionRegistry))
	for name := range extensionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectExtensions(names []string) []goldmark.Extender {
	if len(names) == 0 {
		return []goldmark.Extender{extension.GFM}
	}
	var out []goldmark.Extender
	seen := map[string]struct{}{}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := seen[key]; ok {
			continue
		}
		ext, ok := extensionRegistry[key]
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ext)
	}
	return out
}
