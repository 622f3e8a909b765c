package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/messaging"
	appCtx "github.com/acme/reliable/internal/pkg/context"
	"github.com/acme/reliable/internal/service"
	"github.com/acme/reliable/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

const maxPayloadBytes = 1 << 20 // 1 MiB

type Handler struct {
	bus       *service.CommandBus
	commands  domain.CommandStore
	responses *service.ResponseRegistry
	naming    messaging.Naming
	syncWait  time.Duration
}

func NewHandler(bus *service.CommandBus, commands domain.CommandStore, responses *service.ResponseRegistry, naming messaging.Naming, syncWait time.Duration) *Handler {
	return &Handler{
		bus:       bus,
		commands:  commands,
		responses: responses,
		naming:    naming,
		syncWait:  syncWait,
	}
}

// Submit accepts a command, commits it atomically with its outbox row,
// then waits a bounded time for the reply. Timeout is not failure: the
// caller gets 202 plus the command id and polls GET /commands/{id}.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "command name is required", nil)
		return
	}

	// The payload stays opaque JSON; only well-formedness is checked here.
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	var payload json.RawMessage
	if err := render.DecodeJSON(r.Body, &payload); err != nil {
		if errors.Is(err, io.EOF) {
			payload = json.RawMessage("{}")
		} else {
			fail(w, r, http.StatusBadRequest, "request.invalid", "body must be valid json", nil)
			return
		}
	}

	// The documented headers are the bare names; the X- variants stay
	// accepted for callers that prefix custom headers.
	idempotencyKey := header(r, "Idempotency-Key", "X-Idempotency-Key")
	if idempotencyKey == "" {
		fail(w, r, http.StatusBadRequest, "idempotency_key.required", "Idempotency-Key header is required for this operation", nil)
		return
	}

	businessKey := header(r, "Business-Key", "X-Business-Key")
	if businessKey == "" {
		businessKey = uuid.NewString()
	}

	replyTo := header(r, "Reply-To", "X-Reply-To")
	if replyTo == "" {
		replyTo = h.naming.ReplyQueue
	}
	replyMeta := map[string]string{
		"mode":                  "mq",
		messaging.HeaderReplyTo: replyTo,
	}

	id, err := h.bus.Accept(r.Context(), name, idempotencyKey, businessKey, string(payload), replyMeta)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	w.Header().Set("X-Command-Id", id.String())
	w.Header().Set("X-Correlation-Id", id.String())

	if h.syncWait <= 0 {
		response.Data(w, http.StatusAccepted, map[string]string{
			"command_id": id.String(),
			"status":     string(domain.StatusPending),
		})
		return
	}

	slot := h.responses.Register(id)
	result, err := slot.Await(r.Context(), h.syncWait)
	switch {
	case err == nil:
		// Raw handler result, no envelope: the reply payload is the API
		// contract of the command, not of this service.
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(result))
	case errors.Is(err, domain.ErrReplyTimeout):
		response.Data(w, http.StatusAccepted, map[string]string{
			"command_id": id.String(),
			"status":     string(domain.StatusPending),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nothing useful to write.
	default:
		fail(w, r, http.StatusInternalServerError, "command.failed", err.Error(), map[string]string{
			"command_id": id.String(),
		})
	}
}

// GetCommand is the polling companion to Submit.
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "commandID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid command id", map[string]string{
			"command_id": "must be a valid uuid",
		})
		return
	}

	cmd, err := h.commands.Find(r.Context(), id)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, commandView(cmd))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func commandView(c *domain.Command) map[string]any {
	v := map[string]any{
		"command_id":   c.ID.String(),
		"name":         c.Name,
		"business_key": c.BusinessKey,
		"status":       string(c.Status),
		"retries":      c.Retries,
		"requested_at": c.RequestedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.LastError != "" {
		v["last_error"] = c.LastError
	}
	return v
}

// header returns the first non-empty header among names, trimmed.
func header(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.Header.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		fail(w, r, http.StatusConflict, "idempotency_key.conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateBusinessKey):
		fail(w, r, http.StatusConflict, "business_key.conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrCommandNotFound):
		fail(w, r, http.StatusNotFound, "command.not_found", err.Error(), nil)
	default:
		// Do not leak internal details by default.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
