package handler

import (
	"encoding/json"
	"net/http"

	"logbook/internal/auth"
	"logbook/internal/user"
)

type AuthHandler struct {
	Users *user.Service
	JWT   *auth.JWT
}

type registerReq struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	u, err := h.Users.Create(r.Context(), user.CreateInput{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.JWT.Sign(u.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": u})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password required")
		return
	}

	u, err := h.Users.VerifyCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if u == nil {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	token, err := h.JWT.Sign(u.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
}
