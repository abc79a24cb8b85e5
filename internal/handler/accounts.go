package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/service"
)

// AccountHandler serves payer and usage accounts.
type AccountHandler struct {
	svc    *service.AccountService
	logger *slog.Logger
}

func NewAccountHandler(svc *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

func (h *AccountHandler) ListPayers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListPayerAccounts(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, list(accounts))
}

func (h *AccountHandler) GetPayer(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.GetPayerAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) CreatePayer(w http.ResponseWriter, r *http.Request) {
	var account model.PayerAccount
	if !decode(w, r, &account) {
		return
	}
	if account.Status == "" {
		account.Status = model.PayerAccountRegistered
	}
	if err := h.svc.CreatePayerAccount(r.Context(), &account); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, account)
}

// UpdatePayer replaces a payer account. The path id wins over the body.
func (h *AccountHandler) UpdatePayer(w http.ResponseWriter, r *http.Request) {
	var account model.PayerAccount
	if !decode(w, r, &account) {
		return
	}
	account.AccountID = chi.URLParam(r, "id")
	if err := h.svc.UpdatePayerAccount(r.Context(), &account); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) DeletePayer(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePayerAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsage lists usage accounts with their fund figures, optionally only
// those of ?payerAccountId=.
func (h *AccountHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListUsageAccounts(r.Context(), r.URL.Query().Get("payerAccountId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, list(accounts))
}

func (h *AccountHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.GetUsageAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) CreateUsage(w http.ResponseWriter, r *http.Request) {
	var account model.UsageAccount
	if !decode(w, r, &account) {
		return
	}
	if account.Status == "" {
		account.Status = model.UsageAccountRegistered
	}
	if err := h.svc.CreateUsageAccount(r.Context(), &account); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) UpdateUsage(w http.ResponseWriter, r *http.Request) {
	var account model.UsageAccount
	if !decode(w, r, &account) {
		return
	}
	account.AccountID = chi.URLParam(r, "id")
	if err := h.svc.UpdateUsageAccount(r.Context(), &account); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) DeleteUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteUsageAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
