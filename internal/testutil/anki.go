package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeNote is a note held by FakeAnki.
type FakeNote struct {
	Deck  string
	Model string
	Front string
	Back  string
}

// FakeAnki is an in-memory AnkiConnect server for tests.
type FakeAnki struct {
	*httptest.Server

	mu          sync.Mutex
	decks       []string
	models      map[string][]string
	notes       map[int64]FakeNote
	media       map[string]string
	nextID      int64
	calls       []string
	failures    map[string]*failure
	raw         map[string]string
	unavailable int
}

type failure struct {
	after int
	msg   string
}

// NewFakeAnki starts a server holding the given decks and the two-field
// Basic model. It is closed when the test ends.
func NewFakeAnki(t *testing.T, decks ...string) *FakeAnki {
	t.Helper()
	f := &FakeAnki{
		decks:    append([]string{"Default"}, decks...),
		models:   map[string][]string{"Basic": {"Front", "Back"}},
		notes:    make(map[int64]FakeNote),
		media:    make(map[string]string),
		nextID:   1700000000000,
		failures: make(map[string]*failure),
		raw:      make(map[string]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

// SetModel registers or replaces a model's field list.
func (f *FakeAnki) SetModel(name string, fields ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[name] = fields
}

// Seed stores a note directly and returns its id.
func (f *FakeAnki) Seed(deck, front, back string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.notes[id] = FakeNote{Deck: deck, Model: "Basic", Front: front, Back: back}
	return strconv.FormatInt(id, 10)
}

// Note returns a stored note.
func (f *FakeAnki) Note(id string) (FakeNote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nid, _ := strconv.ParseInt(id, 10, 64)
	n, ok := f.notes[nid]
	return n, ok
}

// Delete removes a note out of band.
func (f *FakeAnki) Delete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nid, _ := strconv.ParseInt(id, 10, 64)
	delete(f.notes, nid)
}

// Edit changes a note out of band.
func (f *FakeAnki) Edit(id, front, back string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nid, _ := strconv.ParseInt(id, 10, 64)
	n := f.notes[nid]
	n.Front, n.Back = front, back
	f.notes[nid] = n
}

// NoteCount returns the number of notes in deck.
func (f *FakeAnki) NoteCount(deck string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, note := range f.notes {
		if note.Deck == deck {
			n++
		}
	}
	return n
}

// Media returns a stored media payload.
func (f *FakeAnki) Media(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.media[name]
	return v, ok
}

// Calls returns the actions received so far, in order.
func (f *FakeAnki) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns how many times action was received.
func (f *FakeAnki) CallCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == action {
			n++
		}
	}
	return n
}

// FailAfter lets action succeed `after` times, then answers it with an
// error message.
func (f *FakeAnki) FailAfter(action string, after int, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[action] = &failure{after: after, msg: msg}
}

// RespondRaw makes action answer with body verbatim.
func (f *FakeAnki) RespondRaw(action, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[action] = body
}

// Unavailable makes the next n requests fail with 503.
func (f *FakeAnki) Unavailable(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = n
}

type fakeRequest struct {
	Action  string          `json:"action"`
	Params  json.RawMessage `json:"params"`
	Version int             `json:"version"`
}

func (f *FakeAnki) handle(w http.ResponseWriter, r *http.Request) {
	var req fakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Action)

	if f.unavailable > 0 {
		f.unavailable--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if body, ok := f.raw[req.Action]; ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
		return
	}
	if fl, ok := f.failures[req.Action]; ok {
		if fl.after <= 0 {
			writeEnvelope(w, nil, fl.msg)
			return
		}
		fl.after--
	}
	if req.Version != 6 {
		writeEnvelope(w, nil, "unsupported version")
		return
	}

	result, err := f.dispatch(req.Action, req.Params)
	if err != nil {
		writeEnvelope(w, nil, err.Error())
		return
	}
	writeEnvelope(w, result, "")
}

func (f *FakeAnki) dispatch(action string, params json.RawMessage) (any, error) {
	switch action {
	case "deckNames":
		return f.decks, nil
	case "modelNames":
		names := make([]string, 0, len(f.models))
		for name := range f.models {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	case "modelFieldNames":
		var p struct {
			ModelName string `json:"modelName"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		fields, ok := f.models[p.ModelName]
		if !ok {
			return nil, fmt.Errorf("model was not found: %s", p.ModelName)
		}
		return fields, nil
	case "findNotes":
		var p struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		deck, exact, err := parseDeckQuery(p.Query)
		if err != nil {
			return nil, err
		}
		ids := []int64{}
		for id, n := range f.notes {
			if n.Deck == deck || (!exact && strings.HasPrefix(n.Deck, deck+"::")) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		return ids, nil
	case "addNote":
		var p struct {
			Note struct {
				DeckName  string            `json:"deckName"`
				ModelName string            `json:"modelName"`
				Fields    map[string]string `json:"fields"`
				Options   struct {
					AllowDuplicate bool `json:"allowDuplicate"`
				} `json:"options"`
			} `json:"note"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if !slices.Contains(f.decks, p.Note.DeckName) {
			return nil, fmt.Errorf("deck was not found: %s", p.Note.DeckName)
		}
		if !p.Note.Options.AllowDuplicate {
			for _, n := range f.notes {
				if n.Deck == p.Note.DeckName && n.Front == p.Note.Fields["Front"] {
					return nil, fmt.Errorf("cannot create note because it is a duplicate")
				}
			}
		}
		id := f.nextID
		f.nextID++
		f.notes[id] = FakeNote{
			Deck:  p.Note.DeckName,
			Model: p.Note.ModelName,
			Front: p.Note.Fields["Front"],
			Back:  p.Note.Fields["Back"],
		}
		return id, nil
	case "notesInfo":
		var p struct {
			Notes []int64 `json:"notes"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		infos := make([]any, 0, len(p.Notes))
		for _, id := range p.Notes {
			n, ok := f.notes[id]
			if !ok {
				infos = append(infos, map[string]any{})
				continue
			}
			infos = append(infos, map[string]any{
				"noteId":    id,
				"modelName": n.Model,
				"tags":      []string{},
				"fields": map[string]any{
					"Front": map[string]any{"value": n.Front, "order": 0},
					"Back":  map[string]any{"value": n.Back, "order": 1},
				},
			})
		}
		return infos, nil
	case "updateNoteFields":
		var p struct {
			Note struct {
				ID     int64             `json:"id"`
				Fields map[string]string `json:"fields"`
			} `json:"note"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		n, ok := f.notes[p.Note.ID]
		if !ok {
			return nil, fmt.Errorf("note was not found: %d", p.Note.ID)
		}
		n.Front, n.Back = p.Note.Fields["Front"], p.Note.Fields["Back"]
		f.notes[p.Note.ID] = n
		return nil, nil
	case "deleteNotes":
		var p struct {
			Notes []int64 `json:"notes"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		for _, id := range p.Notes {
			delete(f.notes, id)
		}
		return nil, nil
	case "retrieveMediaFile":
		var p struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if data, ok := f.media[p.Filename]; ok {
			return data, nil
		}
		return false, nil
	case "storeMediaFile":
		var p struct {
			Filename string `json:"filename"`
			Data     string `json:"data"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		f.media[p.Filename] = p.Data
		return p.Filename, nil
	default:
		return nil, fmt.Errorf("unsupported action")
	}
}

func writeEnvelope(w http.ResponseWriter, result any, errMsg string) {
	env := map[string]any{"result": result, "error": nil}
	if errMsg != "" {
		env["error"] = errMsg
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

// parseDeckQuery understands `deck:"X"`, which like Anki also matches the
// subdecks of X, and `deck:"X" -deck:"X::*"`, which does not.
func parseDeckQuery(q string) (deck string, exact bool, err error) {
	include, exclude, _ := strings.Cut(q, " -")
	deck, err = strconv.Unquote(strings.TrimPrefix(include, "deck:"))
	if err != nil {
		return "", false, fmt.Errorf("unsupported query: %s", q)
	}
	if exclude == "" {
		return deck, false, nil
	}
	if exclude != "deck:"+strconv.Quote(deck+"::*") {
		return "", false, fmt.Errorf("unsupported query: %s", q)
	}
	return deck, true, nil
}
