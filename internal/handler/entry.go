package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/service"
)

// EntryHandler serves /api/entries. Every route sits behind RequireAuth and
// acts only on the caller's own entries.
type EntryHandler struct {
	entries *service.EntryService
	logger  *slog.Logger
}

func NewEntryHandler(entries *service.EntryService, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{
		entries: entries,
		logger:  logger,
	}
}

// callerID is empty when no session is attached; the service turns that into
// a 401.
func callerID(r *http.Request) string {
	uid, _ := auth.UserIDFromContext(r.Context())
	return uid
}

// HandleList returns one page of entries.
//
// HTTP: GET /api/entries?search=&tag=&page=&limit=
func (h *EntryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), "page", service.DefaultPage)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.entries.List(r.Context(), callerID(r), service.ListQuery{
		Search: q.Get("search"),
		Tag:    q.Get("tag"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional positive query parameter.
func intParam(raw, name string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("%s must be a positive integer", name))
	}
	return n, nil
}

// HandleCreate stores a new entry.
//
// HTTP: POST /api/entries
func (h *EntryHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.EntryInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.logger.Warn("invalid entry body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	entry, err := h.entries.Create(r.Context(), callerID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// HandleGetByID returns a single entry.
//
// HTTP: GET /api/entries/{id}
func (h *EntryHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	entry, err := h.entries.GetByID(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleUpdate replaces an entry's fields.
//
// HTTP: PUT /api/entries/{id}
func (h *EntryHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.EntryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.entries.Update(r.Context(), callerID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleDelete removes an entry.
//
// HTTP: DELETE /api/entries/{id}
func (h *EntryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.Delete(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Entry deleted successfully"})
}

// HandleExport sends every entry as a downloadable file.
//
// HTTP: GET /api/entries/export?format=json|markdown
func (h *EntryHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	file, err := h.entries.Export(r.Context(), callerID(r), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Body); err != nil {
		h.logger.Warn("export write interrupted", slog.String("error", err.Error()))
	}
}
