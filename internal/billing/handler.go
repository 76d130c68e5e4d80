package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vesta-hoa/vesta/internal/observability"
	"github.com/vesta-hoa/vesta/internal/platform/httpx"
	"github.com/vesta-hoa/vesta/internal/rbac"
	"github.com/vesta-hoa/vesta/internal/shared"
)

// Handler exposes the reconciliation engine's write and detail endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
	metrics  *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW, metrics: metrics}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermBillingView))
		r.Get("/invoices/{id}", h.getInvoice)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingIssue))
		r.Post("/invoices", h.issueInvoice)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingAllocate))
		r.Post("/invoices/{id}/movements", h.allocateMovement)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingVoid))
		r.Post("/movements/{id}/void", h.voidMovement)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingAnnul))
		r.Post("/invoices/{id}/annul", h.annulInvoice)
	})
}

const dateLayout = "2006-01-02"

type issueInvoiceRequest struct {
	UnitID      int64  `json:"unit_id" validate:"required"`
	Number      string `json:"number" validate:"required"`
	IssueDate   string `json:"issue_date"`
	DueDate     string `json:"due_date" validate:"required"`
	Subtotal    string `json:"subtotal" validate:"required"`
	Discount    string `json:"discount"`
	Tax         string `json:"tax"`
	PeriodLabel string `json:"period" validate:"required"`
	Notes       string `json:"notes"`
}

type allocateRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=PAYMENT CREDIT INTEREST DISCOUNT ADJUSTMENT"`
	Amount    string `json:"amount" validate:"required"`
	Channel   string `json:"channel" validate:"required"`
	Reference string `json:"reference"`
	MovedAt   string `json:"moved_at"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type annulRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type movementResponse struct {
	ID         int64  `json:"id"`
	InvoiceID  int64  `json:"invoice_id"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	MovedAt    string `json:"moved_at"`
	Channel    string `json:"channel"`
	Reference  string `json:"reference"`
	RecordedBy int64  `json:"recorded_by"`
	Voided     bool   `json:"voided"`
	VoidReason string `json:"void_reason,omitempty"`
}

type invoiceResponse struct {
	ID      int64  `json:"id"`
	UnitID  int64  `json:"unit_id"`
	Number  string `json:"number"`
	DueDate string `json:"due_date"`
	Total   string `json:"total"`
	Status  string `json:"status"`
	Period  string `json:"period"`
}

type invoiceDetailResponse struct {
	invoiceResponse
	Display   string             `json:"display_status"`
	Offset    string             `json:"paid"`
	Balance   string             `json:"balance"`
	Movements []movementResponse `json:"movements"`
}

type allocationResponse struct {
	Movement movementResponse `json:"movement"`
	Invoice  invoiceResponse  `json:"invoice"`
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:         m.ID,
		InvoiceID:  m.InvoiceID,
		Kind:       string(m.Kind),
		Amount:     m.Amount.String(),
		MovedAt:    m.MovedAt.Format(time.RFC3339),
		Channel:    m.Channel,
		Reference:  m.Reference,
		RecordedBy: m.RecordedBy,
		Voided:     m.Voided,
		VoidReason: m.VoidReason,
	}
}

func toInvoiceResponse(inv Invoice) invoiceResponse {
	return invoiceResponse{
		ID:      inv.ID,
		UnitID:  inv.UnitID,
		Number:  inv.Number,
		DueDate: inv.DueDate.Format(dateLayout),
		Total:   inv.Total.String(),
		Status:  string(inv.Status),
		Period:  inv.PeriodLabel,
	}
}

func (h *Handler) issueInvoice(w http.ResponseWriter, r *http.Request) {
	var req issueInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := IssueInvoiceInput{
		UnitID:      req.UnitID,
		Number:      req.Number,
		PeriodLabel: req.PeriodLabel,
		Notes:       req.Notes,
	}
	var err error
	if input.Subtotal, err = decimal.NewFromString(req.Subtotal); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subtotal is not a valid amount")
		return
	}
	if req.Discount != "" {
		if input.Discount, err = decimal.NewFromString(req.Discount); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discount is not a valid amount")
			return
		}
	}
	if req.Tax != "" {
		if input.Tax, err = decimal.NewFromString(req.Tax); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tax is not a valid amount")
			return
		}
	}
	if input.DueDate, err = time.Parse(dateLayout, req.DueDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
		return
	}
	if req.IssueDate != "" {
		if input.IssueDate, err = time.Parse(dateLayout, req.IssueDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issue_date must be YYYY-MM-DD")
			return
		}
	}

	inv, err := h.service.IssueInvoice(r.Context(), input)
	if err != nil {
		h.logger.Error("issue invoice", slog.Any("error", err), slog.String("number", req.Number))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(*inv))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	detail, err := h.service.GetInvoiceWithMovements(r.Context(), id, time.Now().UTC())
	if err != nil {
		h.logger.Error("get invoice", slog.Any("error", err), slog.Int64("id", id))
		h.respondError(w, err)
		return
	}

	resp := invoiceDetailResponse{
		invoiceResponse: toInvoiceResponse(detail.Invoice),
		Display:         string(detail.Display),
		Offset:          detail.Offset.String(),
		Balance:         detail.Balance.String(),
		Movements:       make([]movementResponse, 0, len(detail.Movements)),
	}
	for _, m := range detail.Movements {
		resp.Movements = append(resp.Movements, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) allocateMovement(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a valid amount")
		return
	}
	var movedAt time.Time
	if req.MovedAt != "" {
		if movedAt, err = time.Parse(dateLayout, req.MovedAt); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "moved_at must be YYYY-MM-DD")
			return
		}
	}

	actor, _ := shared.ActorFromContext(r.Context())
	movement, invoice, err := h.service.Allocate(r.Context(), AllocateInput{
		InvoiceID:      invoiceID,
		Kind:           MovementKind(req.Kind),
		Amount:         amount,
		MovedAt:        movedAt,
		Channel:        req.Channel,
		Reference:      req.Reference,
		RecordedBy:     actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("allocate movement", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
		h.respondError(w, err)
		return
	}

	h.metrics.CountMovement(string(movement.Kind), "recorded")
	httpx.JSON(w, http.StatusCreated, allocationResponse{
		Movement: toMovementResponse(*movement),
		Invoice:  toInvoiceResponse(*invoice),
	})
}

func (h *Handler) voidMovement(w http.ResponseWriter, r *http.Request) {
	movementID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}

	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	movement, invoice, err := h.service.Void(r.Context(), VoidInput{
		MovementID:     movementID,
		Reason:         req.Reason,
		VoidedBy:       actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("void movement", slog.Any("error", err), slog.Int64("movement_id", movementID))
		h.respondError(w, err)
		return
	}

	h.metrics.CountMovement(string(movement.Kind), "voided")
	httpx.JSON(w, http.StatusOK, allocationResponse{
		Movement: toMovementResponse(*movement),
		Invoice:  toInvoiceResponse(*invoice),
	})
}

func (h *Handler) annulInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	var req annulRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	invoice, err := h.service.Annul(r.Context(), AnnulInput{
		InvoiceID:  invoiceID,
		Reason:     req.Reason,
		AnnulledBy: actor.ID,
	})
	if err != nil {
		h.logger.Error("annul invoice", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, toInvoiceResponse(*invoice))
}

// respondError maps the billing taxonomy onto HTTP statuses. ExceedsBalance
// carries the computed pending balance so the caller can correct the amount.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var exceeds *ExceedsBalanceError
	switch {
	case errors.As(err, &exceeds):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Exceeds Balance", err.Error(), map[string]any{
			"pending": exceeds.Pending.String(),
		})
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, ErrMovementNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyVoided), errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, ErrDuplicateNumber), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrTxConflict):
		httpx.Problem(w, http.StatusConflict, "Transaction Conflict", "concurrent update detected, retry after re-reading the invoice")
	default:
		httpx.RespondError(w, err)
	}
}
