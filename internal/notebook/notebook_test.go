package notebook

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleNotebook = `{
 "cells": [
  {
   "attachments": {
    "pic.png": {
     "image/png": "iVBORw0KGgo="
    }
   },
   "cell_type": "markdown",
   "metadata": {"tags": ["x"]},
   "source": [
    "<!---->\n",
    "**Q1**\n",
    "Answer ![img](attachment:pic.png)"
   ]
  },
  {
   "cell_type": "code",
   "execution_count": 3,
   "metadata": {},
   "outputs": [],
   "source": "print(1 < 2)"
  }
 ],
 "metadata": {"kernelspec": {"name": "python3"}},
 "nbformat": 4,
 "nbformat_minor": 5
}
`

func TestParse_CellsAndSources(t *testing.T) {
	nb, err := Parse([]byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nb.Cells) != 2 {
		t.Fatalf("cells = %d, want 2", len(nb.Cells))
	}
	md := nb.Cells[0]
	if md.Type != CellMarkdown {
		t.Errorf("type = %q", md.Type)
	}
	if !md.Source.IsLines() {
		t.Error("expected line-list source")
	}
	want := "<!---->\n**Q1**\nAnswer ![img](attachment:pic.png)"
	if md.Source.String() != want {
		t.Errorf("source = %q, want %q", md.Source.String(), want)
	}
	if got := md.Attachments["pic.png"]["image/png"]; got != "iVBORw0KGgo=" {
		t.Errorf("attachment payload = %q", got)
	}
	code := nb.Cells[1]
	if code.Source.IsLines() || code.Source.String() != "print(1 < 2)" {
		t.Errorf("code source = %q (lines=%v)", code.Source.String(), code.Source.IsLines())
	}
	if code.Attachments != nil {
		t.Error("code cell should have nil attachments")
	}
}

func TestMarshal_PreservesUnknownFields(t *testing.T) {
	nb, err := Parse([]byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := nb.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(out)
	for _, want := range []string{`"execution_count": 3`, `"kernelspec"`, `"nbformat_minor": 5`, `"iVBORw0KGgo="`} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %s", want)
		}
	}
	if strings.Contains(s, `\u003c`) {
		t.Error("output must not HTML-escape '<'")
	}
	if !strings.Contains(s, "<!---->") {
		t.Error("metadata block lost")
	}
	if !strings.HasSuffix(s, "}\n") {
		t.Error("expected trailing newline")
	}
	if !strings.HasPrefix(s, "{\n \"cells\": [") {
		t.Errorf("unexpected layout: %q", s[:20])
	}
}

func TestMarshal_KeepsSourceShape(t *testing.T) {
	nb, err := Parse([]byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	nb.Cells[0].Source.Set("<!--{\"id\":\"7\"}-->\n**Q1**\nAnswer")
	nb.Cells[1].Source.Set("print(2)")

	out, err := nb.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic struct {
		Cells []struct {
			Source json.RawMessage `json:"source"`
		} `json:"cells"`
	}
	if err := json.Unmarshal(out, &generic); err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	var lines []string
	if err := json.Unmarshal(generic.Cells[0].Source, &lines); err != nil {
		t.Fatalf("first cell should stay a list: %v", err)
	}
	if len(lines) != 3 || lines[0] != "<!--{\"id\":\"7\"}-->\n" || lines[2] != "Answer" {
		t.Errorf("lines = %q", lines)
	}
	var text string
	if err := json.Unmarshal(generic.Cells[1].Source, &text); err != nil || text != "print(2)" {
		t.Errorf("second cell should stay a string, got %s", generic.Cells[1].Source)
	}
}

func TestSource_Lines(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
	}
	for _, c := range cases {
		if got := NewSource(c.in).Lines(); len(got) != c.want {
			t.Errorf("Lines(%q) = %q, want %d lines", c.in, got, c.want)
		}
	}
}

func TestSource_RejectsOtherShapes(t *testing.T) {
	var s Source
	if err := json.Unmarshal([]byte(`42`), &s); err == nil {
		t.Error("expected error for numeric source")
	}
}
