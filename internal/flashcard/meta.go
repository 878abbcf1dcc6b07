package flashcard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starford/ankisync/internal/apperr"
)

// MetaOpen marks a cell as a flashcard.
const MetaOpen = "<!--"

// KeyID is the metadata key holding the remote note id.
const KeyID = "id"

// metaRe matches the first <!-- ... --> block, which may span lines.
var metaRe = regexp.MustCompile(`(?s)<!--(.*?)-->`)

const metaSchemaJSON = `{
	"type": "object",
	"properties": {
		"id": {"type": ["string", "integer"]}
	}
}`

var metaSchema = jsonschema.MustCompileString("mem://ankisync/meta.schema.json", metaSchemaJSON)

// ParseMeta parses the first metadata block of text and returns it together
// with text minus that block. An empty block yields an empty map; a block
// that is not a JSON object is an error and no partial map is returned.
// Text without a block yields an empty map and text unchanged; an opener
// that is never closed is an error.
func ParseMeta(text string) (map[string]string, string, error) {
	loc := metaRe.FindStringSubmatchIndex(text)
	if loc == nil {
		if strings.Contains(text, MetaOpen) {
			return nil, "", fmt.Errorf("%w: unterminated metadata block", apperr.ErrMalformedMetadata)
		}
		return map[string]string{}, text, nil
	}
	rest := text[:loc[0]] + text[loc[1]:]
	inner := strings.TrimSpace(text[loc[2]:loc[3]])
	if inner == "" {
		return map[string]string{}, rest, nil
	}

	meta, err := decodeMeta(inner)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrMalformedMetadata, err)
	}
	return meta, rest, nil
}

func decodeMeta(inner string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(inner))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after metadata object")
	}
	if err := metaSchema.Validate(v); err != nil {
		return nil, schemaError(err)
	}

	obj := v.(map[string]any)
	out := make(map[string]string, len(obj))
	for k, raw := range obj {
		switch val := raw.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

// schemaError reduces a validation error to its first leaf, without the
// schema location.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return errors.New(ve.Message)
	}
	return fmt.Errorf("%s: %s", ve.InstanceLocation, ve.Message)
}

// PutMeta stores id in the first metadata block of source, replacing whatever
// the block held. A block is prepended when source has none.
func PutMeta(source, id string) string {
	payload, _ := json.Marshal(map[string]string{KeyID: id})
	block := MetaOpen + string(payload) + "-->"

	loc := metaRe.FindStringIndex(source)
	if loc == nil {
		return block + "\n" + source
	}
	return source[:loc[0]] + block + source[loc[1]:]
}
