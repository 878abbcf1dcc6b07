package attachment

import (
	"errors"
	"testing"

	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/checksum"
	"github.com/starford/ankisync/internal/notebook"
)

func cell(src string, attachments map[string]map[string]string) *notebook.Cell {
	return &notebook.Cell{
		Type:        notebook.CellMarkdown,
		Source:      notebook.NewSource(src),
		Attachments: attachments,
	}
}

func TestResolve_SingleImage(t *testing.T) {
	c := cell("<!---->**Q**\n![img](attachment:pic.png)", map[string]map[string]string{
		"pic.png": {"image/png": "BASE64"},
	})
	refs, err := Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ref, ok := refs["pic.png"]
	if !ok || len(refs) != 1 {
		t.Fatalf("refs = %v", refs)
	}
	if ref.Hash != checksum.SumString("BASE64") || ref.Payload != "BASE64" || ref.MIME != "image/png" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestResolve_NoReferences(t *testing.T) {
	refs, err := Resolve(cell("**Q** plain answer", nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("refs = %v, want empty", refs)
	}
}

func TestResolve_EmptyTitleAndDuplicates(t *testing.T) {
	c := cell("![](attachment:a.png) ![x](attachment:a.png) ![y](attachment:b.jpg)", map[string]map[string]string{
		"a.png": {"image/png": "AAA"},
		"b.jpg": {"image/jpeg": "BBB"},
	})
	refs, err := Resolve(c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(refs) != 2 || refs["b.jpg"].MIME != "image/jpeg" {
		t.Errorf("refs = %v", refs)
	}
}

func TestResolve_Failures(t *testing.T) {
	src := "![img](attachment:pic.png)"
	cases := map[string]map[string]map[string]string{
		"no attachments field": nil,
		"missing name":         {"other.png": {"image/png": "X"}},
		"no image payload":     {"pic.png": {"text/plain": "X"}},
	}
	for name, attachments := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Resolve(cell(src, attachments))
			if !errors.Is(err, apperr.ErrAttachmentResolution) {
				t.Errorf("err = %v, want ErrAttachmentResolution", err)
			}
		})
	}
}

func TestReferencesIgnoresPlainLinks(t *testing.T) {
	got := References("[link](attachment:doc.pdf) ![ok](attachment:pic.png) ![web](https://x/y.png)")
	if len(got) != 1 || got[0] != "pic.png" {
		t.Errorf("References = %v", got)
	}
}

func TestHashes(t *testing.T) {
	h := Hashes(map[string]ContentRef{"a.png": {Hash: "h1"}})
	if h["a.png"] != "h1" {
		t.Errorf("Hashes = %v", h)
	}
}
