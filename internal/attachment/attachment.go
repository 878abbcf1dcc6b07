// Package attachment resolves images embedded in notebook cells into
// content-addressed references.
package attachment

import (
	"fmt"
	"regexp"

	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/checksum"
	"github.com/starford/ankisync/internal/notebook"
)

// ContentRef identifies an attachment payload by the hash of its base64 text.
type ContentRef struct {
	Hash    string `json:"hash"`
	Payload string `json:"-"`
	MIME    string `json:"mime"`
}

// refRe matches ![title](attachment:name); the title may be empty.
var refRe = regexp.MustCompile(`!\[[^\]]*\]\(attachment:([^)\s]+)\)`)

// imageMIMEs lists the recognised image payload keys in preference order.
var imageMIMEs = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/svg+xml",
}

// References returns the distinct attachment names referenced by source, in
// order of first appearance.
func References(source string) []string {
	matches := refRe.FindAllStringSubmatch(source, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Resolve maps every attachment referenced by the cell to its payload. A cell
// without references resolves to an empty map. A reference the cell cannot
// satisfy with an image payload is an error.
func Resolve(cell *notebook.Cell) (map[string]ContentRef, error) {
	names := References(cell.Source.String())
	out := make(map[string]ContentRef, len(names))
	if len(names) == 0 {
		return out, nil
	}
	if cell.Attachments == nil {
		return nil, fmt.Errorf("%w: cell references %d attachment(s) but has none", apperr.ErrAttachmentResolution, len(names))
	}
	for _, name := range names {
		bundle, ok := cell.Attachments[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q not found in cell attachments", apperr.ErrAttachmentResolution, name)
		}
		mime, payload, ok := imagePayload(bundle)
		if !ok {
			return nil, fmt.Errorf("%w: %q has no image payload", apperr.ErrAttachmentResolution, name)
		}
		out[name] = ContentRef{
			Hash:    checksum.SumString(payload),
			Payload: payload,
			MIME:    mime,
		}
	}
	return out, nil
}

// Hashes projects refs to name → hash, the form image tag rewriting needs.
func Hashes(refs map[string]ContentRef) map[string]string {
	out := make(map[string]string, len(refs))
	for name, ref := range refs {
		out[name] = ref.Hash
	}
	return out
}

func imagePayload(bundle map[string]string) (string, string, bool) {
	for _, mime := range imageMIMEs {
		if payload, ok := bundle[mime]; ok && payload != "" {
			return mime, payload, true
		}
	}
	return "", "", false
}
