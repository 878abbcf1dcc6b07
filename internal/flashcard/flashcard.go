// Package flashcard extracts question/answer cards from notebook cells.
//
// A flashcard is a markdown cell containing a metadata block
// (<!-- {"id": "..."} -->) and a bold head (**question**). Whatever remains
// after both are stripped is the answer, rendered to HTML.
package flashcard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/attachment"
	"github.com/starford/ankisync/internal/notebook"
	"github.com/starford/ankisync/internal/render"
)

// headRe matches the first **...** span on a single line.
var headRe = regexp.MustCompile(`\*\*(.*?)\*\*`)

// Flashcard is the canonical representation of one eligible cell.
type Flashcard struct {
	Metadata    map[string]string
	Head        string
	Body        string
	Attachments map[string]attachment.ContentRef
}

// ID returns the remote note id recorded in the metadata, if any.
func (f *Flashcard) ID() (string, bool) {
	id, ok := f.Metadata[KeyID]
	return id, ok
}

// IsFlashcard reports whether c is a markdown cell carrying a metadata block
// opener. Non-markdown cells never qualify.
func IsFlashcard(c *notebook.Cell) bool {
	return c.Type == notebook.CellMarkdown && strings.Contains(c.Source.String(), MetaOpen)
}

// SplitHead returns the trimmed interior of the first **...** span and text
// without that span.
func SplitHead(text string) (string, string, error) {
	loc := headRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", "", apperr.ErrMissingHead
	}
	head := strings.TrimSpace(text[loc[2]:loc[3]])
	if head == "" {
		return "", "", fmt.Errorf("%w: head is empty", apperr.ErrMissingHead)
	}
	return head, text[:loc[0]] + text[loc[1]:], nil
}

// Extractor turns cells into flashcards using a rendering pipeline.
type Extractor struct {
	pipeline *render.Pipeline
}

// NewExtractor creates an Extractor.
func NewExtractor(p *render.Pipeline) *Extractor {
	return &Extractor{pipeline: p}
}

// Extract parses c. The caller is expected to have checked IsFlashcard.
// Only the first metadata block and the first head span are special; later
// ones are left in the answer as ordinary text.
func (e *Extractor) Extract(c *notebook.Cell) (*Flashcard, error) {
	meta, rest, err := ParseMeta(c.Source.String())
	if err != nil {
		return nil, err
	}
	head, rest, err := SplitHead(rest)
	if err != nil {
		return nil, err
	}
	refs, err := attachment.Resolve(c)
	if err != nil {
		return nil, err
	}
	body, err := e.pipeline.Body(strings.TrimSpace(rest), attachment.Hashes(refs))
	if err != nil {
		return nil, err
	}
	return &Flashcard{
		Metadata:    meta,
		Head:        head,
		Body:        body,
		Attachments: refs,
	}, nil
}

// CellError ties an extraction failure to its cell.
type CellError struct {
	Document string
	Index    int
	Err      error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("%s: cell %d: %v", e.Document, e.Index, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }

// Error kinds reported for skipped cells.
const (
	KindMalformedMetadata = "malformed_metadata"
	KindMissingHead       = "missing_head"
	KindAttachment        = "attachment"
	KindAttachmentName    = "attachment_name"
	KindOther             = "other"
)

// Kind classifies an extraction error into one of the Kind constants.
func Kind(err error) string {
	switch {
	case errors.Is(err, apperr.ErrMalformedMetadata):
		return KindMalformedMetadata
	case errors.Is(err, apperr.ErrMissingHead):
		return KindMissingHead
	case errors.Is(err, apperr.ErrAttachmentResolution):
		return KindAttachment
	case errors.Is(err, apperr.ErrInvalidAttachmentName):
		return KindAttachmentName
	default:
		return KindOther
	}
}
