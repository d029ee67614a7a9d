package handler

import (
	"encoding/json"
	"net/http"

	"logbook/internal/auth"
	"logbook/internal/user"
)

type UserHandler struct {
	Users *user.Service
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	u, err := h.Users.GetByID(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// List returns assignment candidates sorted by display name. ?exclude=<id>
// drops one user, typically the caller.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	exclude, _ := queryUint(r, "exclude")
	users, err := h.Users.ListForAssignment(r.Context(), exclude)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	u, err := h.Users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type updateUserReq struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Password    *string `json:"password"`
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if id != uid {
		writeForbidden(w)
		return
	}

	var req updateUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	u, err := h.Users.Update(r.Context(), id, user.UpdateInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if id != uid {
		writeForbidden(w)
		return
	}

	if err := h.Users.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
