package collections

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vesta-hoa/vesta/internal/billing"
	"github.com/vesta-hoa/vesta/internal/platform/httpx"
	"github.com/vesta-hoa/vesta/internal/rbac"
	"github.com/vesta-hoa/vesta/internal/shared"
)

// Handler exposes the collection reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW, now: func() time.Time { return time.Now().UTC() }}
}

// MountRoutes registers collection report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCollectionsView))
		r.Get("/units/{id}/statement", h.unitStatement)
		r.Get("/complexes/{id}/aging", h.aging)
		r.Get("/complexes/{id}/top-debtors", h.topDebtors)
		r.Get("/complexes/{id}/totals", h.totals)
	})
}

const dateLayout = "2006-01-02"

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// asOfParam parses the optional as_of query date, defaulting to the start of
// the current UTC day. Every report computes its buckets against this single
// instant, and keeping it day-grained means reads throughout a day resolve to
// the same cached report as the overnight warmup.
func (h *Handler) asOfParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return h.now().Truncate(24 * time.Hour), nil
	}
	return time.Parse(dateLayout, raw)
}

func (h *Handler) unitStatement(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit id")
		return
	}
	asOf, err := h.asOfParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return
	}

	stmt, err := h.service.UnitStatement(r.Context(), unitID, asOf)
	if err != nil {
		h.logger.Error("unit statement", slog.Any("error", err), slog.Int64("unit_id", unitID))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stmt)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	complexID, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid complex id")
		return
	}
	asOf, err := h.asOfParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return
	}

	report, err := h.service.Aging(r.Context(), complexID, asOf)
	if err != nil {
		h.logger.Error("aging report", slog.Any("error", err), slog.Int64("complex_id", complexID))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) topDebtors(w http.ResponseWriter, r *http.Request) {
	complexID, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid complex id")
		return
	}
	asOf, err := h.asOfParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
	}

	report, err := h.service.TopDebtors(r.Context(), complexID, limit, asOf)
	if err != nil {
		h.logger.Error("top debtors", slog.Any("error", err), slog.Int64("complex_id", complexID))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	complexID, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid complex id")
		return
	}
	from, err := time.Parse(dateLayout, r.URL.Query().Get("from"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(dateLayout, r.URL.Query().Get("to"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
		return
	}

	report, err := h.service.Totals(r.Context(), complexID, from, to)
	if err != nil {
		h.logger.Error("collection totals", slog.Any("error", err), slog.Int64("complex_id", complexID))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, billing.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
