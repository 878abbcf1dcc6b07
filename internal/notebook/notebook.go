// Package notebook models Jupyter .ipynb documents closely enough to read
// markdown cells, rewrite their source, and write the file back without losing
// fields this tool does not understand.
package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Cell type tags.
const (
	CellMarkdown = "markdown"
	CellCode     = "code"
	CellRaw      = "raw"
)

// Notebook is a parsed .ipynb document.
type Notebook struct {
	Cells []*Cell
	extra map[string]json.RawMessage
}

// Cell is a single notebook cell. Only cell_type, source and attachments are
// interpreted; everything else round-trips untouched.
type Cell struct {
	Type   string
	Source Source
	// Attachments maps attachment name to MIME type to base64 payload.
	// It is nil when the cell carries no attachments field at all.
	Attachments map[string]map[string]string

	extra map[string]json.RawMessage
}

// Document is a notebook together with its path relative to the notebooks root.
type Document struct {
	Path     string
	Notebook *Notebook
}

// Parse decodes raw .ipynb bytes.
func Parse(data []byte) (*Notebook, error) {
	var nb Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("notebook: parse: %w", err)
	}
	return &nb, nil
}

// Marshal encodes the notebook in nbformat's on-disk layout: sorted keys,
// one-space indent, no HTML escaping, trailing newline.
func (nb *Notebook) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(nb); err != nil {
		return nil, fmt.Errorf("notebook: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (nb *Notebook) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["cells"]; ok {
		if err := json.Unmarshal(raw, &nb.Cells); err != nil {
			return fmt.Errorf("cells: %w", err)
		}
		delete(fields, "cells")
	}
	nb.extra = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (nb *Notebook) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(nb.extra)+1)
	for k, v := range nb.extra {
		out[k] = v
	}
	cells := nb.Cells
	if cells == nil {
		cells = []*Cell{}
	}
	raw, err := marshalNoEscape(cells)
	if err != nil {
		return nil, err
	}
	out["cells"] = raw
	return marshalNoEscape(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["cell_type"]; ok {
		if err := json.Unmarshal(raw, &c.Type); err != nil {
			return fmt.Errorf("cell_type: %w", err)
		}
		delete(fields, "cell_type")
	}
	if raw, ok := fields["source"]; ok {
		if err := json.Unmarshal(raw, &c.Source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		delete(fields, "source")
	}
	// attachments stay in extra so they are written back byte-for-byte; the
	// parsed view only keeps string payloads.
	if raw, ok := fields["attachments"]; ok {
		c.Attachments = parseAttachments(raw)
	}
	c.extra = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c *Cell) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.extra)+2)
	for k, v := range c.extra {
		out[k] = v
	}
	typ, err := marshalNoEscape(c.Type)
	if err != nil {
		return nil, err
	}
	out["cell_type"] = typ
	src, err := marshalNoEscape(c.Source)
	if err != nil {
		return nil, err
	}
	out["source"] = src
	return marshalNoEscape(out)
}

func parseAttachments(raw json.RawMessage) map[string]map[string]string {
	var bundles map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bundles); err != nil || bundles == nil {
		return map[string]map[string]string{}
	}
	out := make(map[string]map[string]string, len(bundles))
	for name, bundle := range bundles {
		mimes := make(map[string]string, len(bundle))
		for mime, payload := range bundle {
			var s string
			if json.Unmarshal(payload, &s) == nil {
				mimes[mime] = s
			}
		}
		out[name] = mimes
	}
	return out
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
