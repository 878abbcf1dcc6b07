package render

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Options configures a Pipeline.
type Options struct {
	// Extensions names the goldmark extensions to enable.
	Extensions []string
	// Sanitize runs the final HTML through a user-generated-content policy.
	Sanitize bool
}

// Pipeline produces a card back from the markdown left over after the
// metadata block and head were stripped from a cell.
type Pipeline struct {
	md     *Markdown
	policy *bluemonday.Policy
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{md: NewMarkdown(opts.Extensions)}
	if opts.Sanitize {
		p.policy = bluemonday.UGCPolicy()
	}
	return p
}

// Body renders markdown to HTML, rewrites math delimiters and replaces
// attachment image tags with their content hashes (name → hash).
func (p *Pipeline) Body(markdown string, images map[string]string) (string, error) {
	html, err := p.md.Render(markdown)
	if err != nil {
		return "", err
	}
	html = RenderMath(html)
	html, err = ReplaceImageTags(html, images)
	if err != nil {
		return "", err
	}
	if p.policy != nil {
		html = p.policy.Sanitize(html)
	}
	return strings.TrimSpace(html), nil
}
