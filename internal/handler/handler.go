// Package handler implements the dmboxd HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rbaliyan/dmbox"
	"github.com/rbaliyan/dmbox/account"
	"github.com/rbaliyan/dmbox/internal/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Mailboxes hands out per-user mailboxes. dmbox.Service implements it.
type Mailboxes interface {
	Client(userID string) dmbox.Mailbox
}

// Accounts manages users. *account.Service implements it.
type Accounts interface {
	Register(ctx context.Context, username, password string) (*account.Session, error)
	Login(ctx context.Context, username, password string) (*account.Session, error)
	Delete(ctx context.Context, userID string) error
	ChangePassword(ctx context.Context, userID, current, next string) (*dmbox.UserView, error)
}

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

// Handler serves the API endpoints.
type Handler struct {
	mailboxes Mailboxes
	accounts  Accounts
	health    HealthFunc
	logger    *slog.Logger
	validate  *validator.Validate
}

// New creates a Handler. health may be nil.
func New(mailboxes Mailboxes, accounts Accounts, health HealthFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		mailboxes: mailboxes,
		accounts:  accounts,
		health:    health,
		logger:    logger,
		validate:  v,
	}
}

// Healthz answers 200 when the store pings and 503 otherwise.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "malformed JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeValidation, msg)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeValidation, describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:], fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// writeError maps a service error to a response. Unknown errors are
// logged and answered with a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *dmbox.ValidationError
	switch {
	case errors.As(err, &verr):
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeValidation, verr.Error())
	case errors.Is(err, dmbox.ErrUnauthorized), errors.Is(err, dmbox.ErrInvalidUserID):
		middleware.WriteError(w, http.StatusUnauthorized, middleware.CodeUnauthorized, dmbox.ErrUnauthorized.Error())
	case errors.Is(err, dmbox.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound, "not found")
	case errors.Is(err, dmbox.ErrConflict):
		middleware.WriteError(w, http.StatusConflict, middleware.CodeConflict, "username already exists")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		middleware.WriteInternalError(w)
	}
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, middleware.CodeUnauthorized, dmbox.ErrUnauthorized.Error())
	}
	return id, ok
}
