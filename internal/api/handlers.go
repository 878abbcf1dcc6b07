package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/models"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/sse"
	"github.com/starford/ankisync/internal/syncservice"
)

// Service is the part of syncservice.Service the handlers use.
type Service interface {
	Plan(ctx context.Context, req syncservice.Request) (*reconcile.Plan, error)
	Sync(ctx context.Context, req syncservice.Request, confirm syncservice.Confirm) (*syncservice.Outcome, error)
	Prune(ctx context.Context, req syncservice.Request, force bool, confirm syncservice.Confirm) (*syncservice.Outcome, error)
	History(limit int) ([]models.Run, error)
	RunDetail(id string) (*models.Run, error)
	PreviewCell(path string, index int) (*syncservice.Preview, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc    Service
	deck   string
	events EventSink
}

// NewHandler creates a new Handler.
func NewHandler(svc Service, deck string, events EventSink) *Handler {
	return &Handler{svc: svc, deck: deck, events: events}
}

func (h *Handler) deckOr(deck string) string {
	if deck == "" {
		return h.deck
	}
	return deck
}

func (h *Handler) publish(typ string, data any) {
	if h.events != nil {
		h.events.Publish(sse.Event{Type: typ, Data: data})
	}
}

// statusFor maps engine errors to HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrDeckNotFound):
		return http.StatusNotFound, "deck not found"
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syncservice.ErrNoSuchCell):
		return http.StatusNotFound, "not found"
	case errors.Is(err, syncservice.ErrNotFlashcard):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, apperr.ErrMalformedMetadata),
		errors.Is(err, apperr.ErrMissingHead),
		errors.Is(err, apperr.ErrAttachmentResolution),
		errors.Is(err, apperr.ErrInvalidAttachmentName):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, apperr.ErrSkippedCells):
		return http.StatusConflict, err.Error()
	case errors.Is(err, apperr.ErrDuplicateRemoteID):
		return http.StatusConflict, err.Error()
	case errors.Is(err, apperr.ErrModelMismatch):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, apperr.ErrRemoteStore):
		return http.StatusBadGateway, "remote store error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, msg string, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody(body))
}

// decodeBody reads an optional JSON body into v. An empty body is allowed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Plan handles GET /api/plan.
//
//	@Summary		Compute the operations a sync would run
//	@Tags			sync
//	@Produce		json
//	@Param			deck	query		string	false	"Deck name"
//	@Param			path	query		string	false	"Notebook or directory"
//	@Success		200		{object}	PlanResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/plan [get]
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := syncservice.Request{Deck: h.deckOr(q.Get("deck")), Path: q.Get("path")}
	strict, _ := strconv.ParseBool(q.Get("strict"))
	req.Strict = strict

	plan, err := h.svc.Plan(r.Context(), req)
	if err != nil {
		writeError(w, "plan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, syncservice.Summarize(plan))
}

// Sync handles POST /api/sync.
//
//	@Summary		Plan and execute a sync
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SyncRequest	false	"What to sync"
//	@Success		200		{object}	OutcomeResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	OutcomeResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var body SyncRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	req := syncservice.Request{Deck: h.deckOr(body.Deck), Path: body.Path, Strict: body.Strict}

	out, err := h.svc.Sync(r.Context(), req, nil)
	h.respondRun(w, "sync failed", out, err)
}

// Prune handles POST /api/prune.
//
//	@Summary		Delete remote notes no cell refers to
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PruneRequest	false	"Deck and force flag"
//	@Success		200		{object}	OutcomeResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/prune [post]
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	var body PruneRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	req := syncservice.Request{Deck: h.deckOr(body.Deck)}

	out, err := h.svc.Prune(r.Context(), req, body.Force, nil)
	h.respondRun(w, "prune failed", out, err)
}

// respondRun writes the outcome of a sync or prune. A run that failed
// after it started still reports what it applied.
func (h *Handler) respondRun(w http.ResponseWriter, msg string, out *syncservice.Outcome, err error) {
	if err != nil && (out == nil || out.RunID == "") {
		writeError(w, msg, err)
		return
	}
	resp := newOutcomeResponse(out)
	if err != nil {
		slog.Error(msg, slog.String("run_id", out.RunID), slog.String("error", err.Error()))
		resp.Error = err.Error()
		h.publish(sse.TypeSyncFailed, resp)
		status, _ := statusFor(err)
		writeJSON(w, status, resp)
		return
	}
	if out.RunID != "" {
		h.publish(sse.TypeSyncCompleted, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/history.
//
//	@Summary		List recent runs
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum runs"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.History(limit)
	if err != nil {
		writeError(w, "history failed", err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

// RunDetail handles GET /api/history/{id}.
//
//	@Summary		Get one run with its operations
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	Run
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/{id} [get]
func (h *Handler) RunDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.RunDetail(id)
	if err != nil {
		writeError(w, "run detail failed", err)
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Preview handles GET /api/preview.
//
//	@Summary		Extract a single cell without touching the deck
//	@Tags			sync
//	@Produce		json
//	@Param			path	query		string	true	"Notebook path"
//	@Param			cell	query		int		true	"Cell index"
//	@Success		200		{object}	Preview
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [get]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	cell, err := strconv.Atoi(q.Get("cell"))
	if path == "" || err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("path and cell are required"))
		return
	}
	p, err := h.svc.PreviewCell(path, cell)
	if err != nil {
		writeError(w, "preview failed", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
