package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/service"
)

// maxBodyBytes bounds create request bodies.
const maxBodyBytes = 64 << 10

// Intake is the write side the entity handler depends on.
type Intake interface {
	Create(ctx context.Context, req domain.CreateRequest) (service.Created, error)
	Cancel(ctx context.Context, kind domain.EntityKind, id string) error
	ResumeDCA(ctx context.Context, id string) (domain.DCAStrategy, error)
	UpsertContact(ctx context.Context, c domain.Contact) error
}

// EntityHandler serves create, read, cancel and resume for swaps, DCA
// strategies, limit orders and price alerts.
type EntityHandler struct {
	intake Intake
	stores service.Stores
	logger *slog.Logger
}

// NewEntityHandler creates an EntityHandler. Reads go straight to stores.
func NewEntityHandler(intake Intake, stores service.Stores, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{intake: intake, stores: stores, logger: logger.With(slog.String("handler", "entity"))}
}

// kinds maps the collection segment of a URL to the entity kind.
var kinds = map[string]domain.EntityKind{
	"swaps":        domain.KindSwap,
	"dca":          domain.KindDCA,
	"limit-orders": domain.KindLimitOrder,
	"alerts":       domain.KindAlert,
}

// Create accepts a tagged CreateRequest.
// POST /api/entities
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	req, err := domain.DecodeCreateRequest(body)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out, err := h.intake.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetSwap returns one swap with its steps and refund record.
// GET /api/swaps/{id}
func (h *EntityHandler) GetSwap(w http.ResponseWriter, r *http.Request) {
	s, err := h.stores.Swaps.GetByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListUserSwaps lists a user's swaps, newest first.
// GET /api/users/{userId}/swaps?limit=50&offset=0
func (h *EntityHandler) ListUserSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := h.stores.Swaps.ListByUser(r.Context(), pathParam(r, "userId"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if swaps == nil {
		swaps = []domain.Swap{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"swaps": swaps})
}

// GetDCA returns a strategy and its executions.
// GET /api/dca/{id}
func (h *EntityHandler) GetDCA(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	s, err := h.stores.DCA.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	execs, err := h.stores.DCA.ListExecutions(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if execs == nil {
		execs = []domain.DCAExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategy": s, "executions": execs})
}

// GetLimitOrder returns an order and its fills.
// GET /api/limit-orders/{id}
func (h *EntityHandler) GetLimitOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	o, err := h.stores.Orders.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	fills, err := h.stores.Orders.ListFills(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if fills == nil {
		fills = []domain.LimitOrderFill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "fills": fills})
}

// GetAlert returns an alert and its trigger history.
// GET /api/alerts/{id}
func (h *EntityHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	a, err := h.stores.Alerts.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	history, err := h.stores.Alerts.ListHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if history == nil {
		history = []domain.AlertTrigger{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": a, "history": history})
}

// Cancel requests cancellation. The response is 202: the entity reaches its
// cancelled state on the next tick of its loop.
// POST /api/{kind}/{id}/cancel
func (h *EntityHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	kind, ok := kinds[pathParam(r, "kind")]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", pathParam(r, "kind")))
		return
	}
	id := pathParam(r, "id")
	if err := h.intake.Cancel(r.Context(), kind, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancel_requested"})
}

// ResumeDCA re-activates a paused strategy.
// POST /api/dca/{id}/resume
func (h *EntityHandler) ResumeDCA(w http.ResponseWriter, r *http.Request) {
	s, err := h.intake.ResumeDCA(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type contactRequest struct {
	Email          string `json:"email"`
	TelegramChatID string `json:"telegramChatId"`
	PushEndpoint   string `json:"pushEndpoint"`
}

// PutContact stores the notification addresses of a user.
// PUT /api/users/{userId}/contact
func (h *EntityHandler) PutContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c := domain.Contact{
		UserID:         pathParam(r, "userId"),
		Email:          req.Email,
		TelegramChatID: req.TelegramChatID,
		PushEndpoint:   req.PushEndpoint,
	}
	if err := h.intake.UpsertContact(r.Context(), c); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
