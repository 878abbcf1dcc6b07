package render

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/starford/ankisync/internal/apperr"
)

// attachmentNameRe mirrors the media store's content-addressed file names.
var attachmentNameRe = regexp.MustCompile(`^[A-Za-z0-9.]+$`)

// ReplaceImageTags rewrites every <img src="attachment:NAME" ...> tag into
// <img src="HASH">, for each NAME in hashes. Other attributes are dropped.
func ReplaceImageTags(html string, hashes map[string]string) (string, error) {
	names := make([]string, 0, len(hashes))
	for name := range hashes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !attachmentNameRe.MatchString(name) {
			return "", fmt.Errorf("%w: %q", apperr.ErrInvalidAttachmentName, name)
		}
		re, err := regexp.Compile(`<img src="attachment:` + regexp.QuoteMeta(name) + `"[^>]*>`)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", apperr.ErrInvalidAttachmentName, name, err)
		}
		html = re.ReplaceAllLiteralString(html, `<img src="`+hashes[name]+`">`)
	}
	return html, nil
}
