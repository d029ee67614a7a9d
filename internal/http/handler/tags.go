package handler

import (
	"encoding/json"
	"net/http"

	"logbook/internal/tag"
)

type TagHandler struct {
	Tags *tag.Service
}

type createTagReq struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTagReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	t, err := h.Tags.Create(r.Context(), req.Name, req.Color)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type batchTagReq struct {
	Names []string `json:"names"`
}

func (h *TagHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchTagReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}
	if len(req.Names) == 0 {
		writeBadRequest(w, "names required")
		return
	}

	tags, err := h.Tags.CreateMultiple(r.Context(), req.Names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": tags})
}

func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Tags.ListWithCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": tags})
}

func (h *TagHandler) Popular(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Tags.MostPopular(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": tags})
}

func (h *TagHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	t, err := h.Tags.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateTagReq struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func (h *TagHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}

	var req updateTagReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	t, err := h.Tags.Update(r.Context(), id, tag.UpdateInput{Name: req.Name, Color: req.Color})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if err := h.Tags.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
