package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"logbook/internal/auth"
	"logbook/internal/event"
	"logbook/internal/pagination"
	"logbook/internal/storage"
)

type EventHandler struct {
	Events *event.Service
	Files  storage.Store
}

type createEventReq struct {
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	Type            event.Type     `json:"type"`
	Timestamp       *time.Time     `json:"timestamp"`
	Metadata        map[string]any `json:"metadata"`
	AssignedUserIDs []uint64       `json:"assignedUserIds"`
	TagIDs          []uint64       `json:"tagIds"`
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createEventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	ev, err := h.Events.Create(r.Context(), event.CreateInput{
		Title:           req.Title,
		Content:         req.Content,
		Type:            req.Type,
		Timestamp:       req.Timestamp,
		Metadata:        req.Metadata,
		AssignedUserIDs: req.AssignedUserIDs,
		TagIDs:          req.TagIDs,
	}, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type updateEventReq struct {
	Title     *string         `json:"title"`
	Content   *string         `json:"content"`
	Type      *event.Type     `json:"type"`
	Timestamp *time.Time      `json:"timestamp"`
	Metadata  *map[string]any `json:"metadata"`
	// absent = no change, empty array = clear
	AssignedUserIDs *[]uint64 `json:"assignedUserIds"`
	TagIDs          *[]uint64 `json:"tagIds"`
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if !h.requireCreator(w, r, id, uid) {
		return
	}

	var req updateEventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	ev, err := h.Events.Update(r.Context(), id, event.UpdateInput{
		Title:           req.Title,
		Content:         req.Content,
		Type:            req.Type,
		Timestamp:       req.Timestamp,
		Metadata:        req.Metadata,
		AssignedUserIDs: req.AssignedUserIDs,
		TagIDs:          req.TagIDs,
	}, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if !h.requireCreator(w, r, id, uid) {
		return
	}

	deleted, err := h.Events.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	ev, err := h.Events.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// List dispatches on the optional creator / date-range filters; combined
// filtering belongs to /search.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	p := pageParams(r)

	var (
		events []event.Event
		pg     pagination.Pagination
		err    error
	)
	if creator, ok := queryUint(r, "creator"); ok {
		events, pg, err = h.Events.ListByCreator(r.Context(), creator, p)
	} else if startRaw, endRaw := r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate"); startRaw != "" || endRaw != "" {
		start, okS := parseTime(startRaw, false)
		end, okE := parseTime(endRaw, true)
		if !okS || !okE {
			writeBadRequest(w, "startDate and endDate must be RFC3339 or YYYY-MM-DD")
			return
		}
		events, pg, err = h.Events.ListByDateRange(r.Context(), start, end, p)
	} else {
		events, pg, err = h.Events.List(r.Context(), p)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events, "pagination": pg})
}

func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Events.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	history, err := h.Events.GetHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": history})
}

func (h *EventHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if !h.requireCreator(w, r, id, uid) {
		return
	}

	if err := r.ParseMultipartForm(event.MaxAttachmentSize); err != nil {
		writeBadRequest(w, "bad multipart form")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "file field required")
		return
	}
	defer f.Close()

	att, err := h.Events.AddAttachment(r.Context(), id, f, hdr.Filename, hdr.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (h *EventHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	attID, ok := idParam(r, "attachmentID")
	if !ok {
		writeBadRequest(w, "invalid attachment id")
		return
	}

	att, err := h.Events.GetAttachment(r.Context(), id, attID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.OriginalName}))
	http.ServeFile(w, r, h.Files.Path(att.FileName))
}

func (h *EventHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	attID, ok := idParam(r, "attachmentID")
	if !ok {
		writeBadRequest(w, "invalid attachment id")
		return
	}
	if !h.requireCreator(w, r, id, uid) {
		return
	}

	if err := h.Events.RemoveAttachment(r.Context(), id, attID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireCreator is the ownership policy check: the store itself performs
// no authorization.
func (h *EventHandler) requireCreator(w http.ResponseWriter, r *http.Request, eventID, uid uint64) bool {
	creatorID, err := h.Events.CreatorID(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if creatorID != uid {
		writeForbidden(w)
		return false
	}
	return true
}
