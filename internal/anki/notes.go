package anki

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/starford/ankisync/internal/apperr"
)

// Field names of the two-field note model.
const (
	FieldFront = "Front"
	FieldBack  = "Back"
)

// Note is the front/back content of a remote note.
type Note struct {
	Front string
	Back  string
}

type noteFields struct {
	Front string `json:"Front"`
	Back  string `json:"Back"`
}

type newNote struct {
	DeckName  string         `json:"deckName"`
	ModelName string         `json:"modelName"`
	Fields    noteFields     `json:"fields"`
	Options   map[string]any `json:"options"`
	Tags      []string       `json:"tags"`
}

type noteInfo struct {
	NoteID    int64  `json:"noteId"`
	ModelName string `json:"modelName"`
	Fields    map[string]struct {
		Value string `json:"value"`
		Order int    `json:"order"`
	} `json:"fields"`
}

// CheckModel verifies that the configured model exists and has exactly the
// Front and Back fields.
func (c *Client) CheckModel(ctx context.Context) error {
	var models []string
	if err := c.Invoke(ctx, "modelNames", nil, &models); err != nil {
		return err
	}
	if !slices.Contains(models, c.model) {
		return fmt.Errorf("%w: model %q not found", apperr.ErrModelMismatch, c.model)
	}
	var fields []string
	if err := c.Invoke(ctx, "modelFieldNames", map[string]any{"modelName": c.model}, &fields); err != nil {
		return err
	}
	if !slices.Equal(fields, []string{FieldFront, FieldBack}) {
		return fmt.Errorf("%w: model %q has fields %v, want [%s %s]",
			apperr.ErrModelMismatch, c.model, fields, FieldFront, FieldBack)
	}
	return nil
}

// DeckNames lists all decks.
func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	var decks []string
	if err := c.Invoke(ctx, "deckNames", nil, &decks); err != nil {
		return nil, err
	}
	return decks, nil
}

// RequireDeck fails with apperr.ErrDeckNotFound unless deck exists.
func (c *Client) RequireDeck(ctx context.Context, deck string) error {
	decks, err := c.DeckNames(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(decks, deck) {
		return fmt.Errorf("%w: %q", apperr.ErrDeckNotFound, deck)
	}
	return nil
}

// FindNotes returns the ids of the notes in deck, which must exist. Notes in
// its subdecks are left out.
func (c *Client) FindNotes(ctx context.Context, deck string) ([]string, error) {
	if err := c.RequireDeck(ctx, deck); err != nil {
		return nil, err
	}
	var ids []int64
	// deck:"X" also matches X::child; subdeck notes are not ours.
	query := fmt.Sprintf("deck:%q -deck:%q", deck, deck+"::*")
	if err := c.Invoke(ctx, "findNotes", map[string]any{"query": query}, &ids); err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out, nil
}

// AddNote creates a note in deck and returns its id. The server rejects a
// front that already exists. The call is never retried.
func (c *Client) AddNote(ctx context.Context, deck, front, back string) (string, error) {
	note := newNote{
		DeckName:  deck,
		ModelName: c.model,
		Fields:    noteFields{Front: front, Back: back},
		Options:   map[string]any{"allowDuplicate": false},
		Tags:      []string{},
	}
	var id int64
	if err := c.Invoke(ctx, "addNote", map[string]any{"note": note}, &id); err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// NoteFields fetches the front and back of one note.
func (c *Client) NoteFields(ctx context.Context, id string) (Note, error) {
	nid, err := parseID(id)
	if err != nil {
		return Note{}, err
	}
	var infos []noteInfo
	if err := c.Invoke(ctx, "notesInfo", map[string]any{"notes": []int64{nid}}, &infos); err != nil {
		return Note{}, err
	}
	if len(infos) != 1 || infos[0].NoteID != nid {
		return Note{}, fmt.Errorf("%w: notesInfo: note %s not found", apperr.ErrRemoteStore, id)
	}
	info := infos[0]
	if info.ModelName != c.model {
		return Note{}, fmt.Errorf("%w: note %s uses model %q", apperr.ErrModelMismatch, id, info.ModelName)
	}
	return Note{
		Front: info.Fields[FieldFront].Value,
		Back:  info.Fields[FieldBack].Value,
	}, nil
}

// UpdateNote replaces the front and back of an existing note.
func (c *Client) UpdateNote(ctx context.Context, id, front, back string) error {
	nid, err := parseID(id)
	if err != nil {
		return err
	}
	note := map[string]any{
		"id":     nid,
		"fields": noteFields{Front: front, Back: back},
	}
	return c.Invoke(ctx, "updateNoteFields", map[string]any{"note": note}, nil)
}

// DeleteNotes removes notes by id.
func (c *Client) DeleteNotes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	nids := make([]int64, len(ids))
	for i, id := range ids {
		nid, err := parseID(id)
		if err != nil {
			return err
		}
		nids[i] = nid
	}
	return c.Invoke(ctx, "deleteNotes", map[string]any{"notes": nids}, nil)
}

// MediaExists reports whether the media store holds a file named name.
func (c *Client) MediaExists(ctx context.Context, name string) (bool, error) {
	var result any
	if err := c.Invoke(ctx, "retrieveMediaFile", map[string]any{"filename": name}, &result); err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	case string:
		return true, nil
	default:
		return false, nil
	}
}

// StoreMedia uploads a base64 payload under name.
func (c *Client) StoreMedia(ctx context.Context, name, payload string) error {
	return c.Invoke(ctx, "storeMediaFile", map[string]any{"filename": name, "data": payload}, nil)
}

func parseID(id string) (int64, error) {
	nid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid note id %q", apperr.ErrRemoteStore, id)
	}
	return nid, nil
}
