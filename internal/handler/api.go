package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/3O98/pgp-based-communication-app/internal/apperr"
	"github.com/3O98/pgp-based-communication-app/internal/directory"
	"github.com/3O98/pgp-based-communication-app/internal/middleware"
	"github.com/3O98/pgp-based-communication-app/internal/models"
	"github.com/3O98/pgp-based-communication-app/internal/relay"
	"github.com/3O98/pgp-based-communication-app/internal/store"
)

type APIHandler struct {
	Relay     *relay.Engine
	Directory *directory.Service
	Store     *store.Store
}

type RegisterRequest struct {
	Identity  string             `json:"identity"`
	PublicKey models.Base64Bytes `json:"public_key"`
}

type SubmitMessageRequest struct {
	Sender         string             `json:"sender"`
	Recipient      string             `json:"recipient"`
	Ciphertext     models.Base64Bytes `json:"ciphertext"`
	Kind           string             `json:"kind"`
	AttachmentName string             `json:"attachment_name"`
}

// Register handles POST /api/users.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSONError(w, "Invalid request body", string(apperr.CodeInvalidArgument), http.StatusBadRequest)
		return
	}

	user, err := h.Directory.Register(req.Identity, req.PublicKey)
	if err != nil {
		writeAppError(w, err)
		return
	}

	slog.Info("Identity registered", "identity", user.Identity)
	writeJSON(w, http.StatusCreated, user)
}

// ListUsers handles GET /api/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := h.Directory.List()
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// LookupUser handles GET /api/users/{identity}.
func (h *APIHandler) LookupUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Directory.Lookup(r.PathValue("identity"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SubmitMessage handles POST /api/messages. Acceptance means the message
// is committed; whether the recipient was reachable live is deliberately
// not part of the response.
func (h *APIHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req SubmitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSONError(w, "Invalid request body", string(apperr.CodeInvalidArgument), http.StatusBadRequest)
		return
	}

	msg, err := h.Relay.Submit(relay.SubmitRequest{
		Sender:         req.Sender,
		Recipient:      req.Recipient,
		Ciphertext:     req.Ciphertext,
		Kind:           req.Kind,
		AttachmentName: req.AttachmentName,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, msg)
}

// History handles GET /api/history?a=&b=.
func (h *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Relay.History(r.URL.Query().Get("a"), r.URL.Query().Get("b"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Health handles GET /health. The relay keeps accepting messages while the
// durable medium is down, so a degraded store reports unhealthy storage but
// the process itself stays up.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.Store.Ping(); err != nil {
		slog.Error("Health check: durability degraded", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "degraded",
			"storage": "unavailable",
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeAlreadyExists:
		status = http.StatusConflict
	}

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		// Hide wrapped causes from clients; they land in the log instead.
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		slog.Error("Internal error", "error", err)
		message = "Internal server error"
	}

	middleware.WriteJSONError(w, message, string(code), status)
}
