package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finopsmind/billing/internal/auth"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/service"
)

// CustomerHandler serves customers, cost centers and deposits. Customers
// are addressed by VAT number.
type CustomerHandler struct {
	svc    *service.CustomerService
	logger *slog.Logger
}

func NewCustomerHandler(svc *service.CustomerService, logger *slog.Logger) *CustomerHandler {
	return &CustomerHandler{svc: svc, logger: logger}
}

func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, list(customers))
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "vat"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var c model.Customer
	if !decode(w, r, &c) {
		return
	}
	if err := h.svc.Create(r.Context(), &c); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, c)
}

func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var c model.Customer
	if !decode(w, r, &c) {
		return
	}
	c.VATNumber = chi.URLParam(r, "vat")
	if err := h.svc.Update(r.Context(), &c); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	updated, err := h.svc.Get(r.Context(), c.VATNumber)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *CustomerHandler) ListCostCenters(w http.ResponseWriter, r *http.Request) {
	ccs, err := h.svc.ListCostCenters(r.Context(), chi.URLParam(r, "vat"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, list(ccs))
}

func (h *CustomerHandler) CreateCostCenter(w http.ResponseWriter, r *http.Request) {
	var cc model.CostCenter
	if !decode(w, r, &cc) {
		return
	}
	if err := h.svc.CreateCostCenter(r.Context(), chi.URLParam(r, "vat"), &cc); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, cc)
}

func (h *CustomerHandler) UpdateCostCenter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var cc model.CostCenter
	if !decode(w, r, &cc) {
		return
	}
	cc.ID = id
	if err := h.svc.UpdateCostCenter(r.Context(), chi.URLParam(r, "vat"), &cc); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, cc)
}

func (h *CustomerHandler) DeleteCostCenter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteCostCenter(r.Context(), chi.URLParam(r, "vat"), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomerHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.svc.ListDeposits(r.Context(), chi.URLParam(r, "vat"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, list(deposits))
}

// RecordDeposit credits a payment. createdBy is always the authenticated
// caller, whatever the body says.
func (h *CustomerHandler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	var d model.Deposit
	if !decode(w, r, &d) {
		return
	}
	d.CreatedBy = auth.UserEmail(r.Context())
	if err := h.svc.RecordDeposit(r.Context(), chi.URLParam(r, "vat"), &d); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, d)
}
