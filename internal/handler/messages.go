package handler

import (
	"net/http"

	"github.com/rbaliyan/dmbox"
	"github.com/rbaliyan/dmbox/internal/middleware"
)

type sendRequest struct {
	RecipientIDs []string `json:"recipientIDs" validate:"required,min=1,dive,uuid"`
	TextContent  *string  `json:"textContent"`
}

type deleteRequest struct {
	MessageIDs []string `json:"messageIDs" validate:"required,min=1"`
}

// ListMessages handles GET /messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	views, err := h.mailboxes.Client(userID).List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, views)
}

// SendMessage handles POST /messages/new and answers with the new ID.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.mailboxes.Client(userID).Send(r.Context(), dmbox.SendRequest{
		RecipientIDs: req.RecipientIDs,
		Text:         req.TextContent,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, id)
}

// DeleteMessages handles DELETE /messages.
func (h *Handler) DeleteMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.mailboxes.Client(userID).Delete(r.Context(), req.MessageIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
