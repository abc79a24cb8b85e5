package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/auth"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/service"
)

// TransactionHandler lists and accepts transaction records.
type TransactionHandler struct {
	svc    *service.TransactionService
	logger *slog.Logger
}

func NewTransactionHandler(svc *service.TransactionService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{svc: svc, logger: logger}
}

// List returns {data: [...]}, or the legacy {data: {period: [...]}} shape
// when ?grouped=true.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	txs, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if grouped, _ := strconv.ParseBool(r.URL.Query().Get("grouped")); grouped {
		WriteJSON(w, http.StatusOK, map[string]any{"data": model.GroupByPeriod(txs)})
		return
	}
	WriteJSON(w, http.StatusOK, list(txs))
}

// Create books a MANUAL or DEPOSIT record. The period, id and createdBy are
// set by the server; DATAEXPORT records are refused.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var tx model.Transaction
	if !decode(w, r, &tx) {
		return
	}
	tx.CreatedBy = auth.UserEmail(r.Context())
	if err := h.svc.Create(r.Context(), &tx); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tx)
}

func parseTransactionFilter(r *http.Request) (model.TransactionFilter, error) {
	q := r.URL.Query()
	verr := &model.ValidationError{}
	f := model.TransactionFilter{
		PayerAccountID: q.Get("payerAccountId"),
		UsageAccountID: q.Get("usageAccountId"),
		SortBy:         q.Get("sortBy"),
		SortOrder:      q.Get("sortOrder"),
	}
	for name, dst := range map[string]*model.BillingPeriod{"startPeriod": &f.StartPeriod, "endPeriod": &f.EndPeriod} {
		if v := q.Get(name); v != "" {
			p, err := model.ParseBillingPeriod(v)
			if err != nil {
				verr.Add(name, "must be YYYY-MM")
				continue
			}
			*dst = p
		}
	}
	if v := q.Get("costCenterId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			verr.Add("costCenterId", "must be a UUID")
		} else {
			f.CostCenterID = &id
		}
	}
	if v := q.Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			f.Types = append(f.Types, model.TransactionType(strings.ToUpper(strings.TrimSpace(t))))
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			verr.Add("limit", "must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, verr.OrNil()
}
