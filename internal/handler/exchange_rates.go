package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/finopsmind/billing/internal/apierrors"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/service"
)

// ExchangeRateHandler serves the exchange rate settings.
type ExchangeRateHandler struct {
	svc    *service.ExchangeRateService
	logger *slog.Logger
}

func NewExchangeRateHandler(svc *service.ExchangeRateService, logger *slog.Logger) *ExchangeRateHandler {
	return &ExchangeRateHandler{svc: svc, logger: logger}
}

func (h *ExchangeRateHandler) List(w http.ResponseWriter, r *http.Request) {
	rates, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, list(rates))
}

func (h *ExchangeRateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

func (h *ExchangeRateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg model.ExchangeRateConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := h.svc.Create(r.Context(), &cfg); err != nil {
		h.writeError(w, r, &cfg, err)
		return
	}
	WriteJSON(w, http.StatusCreated, cfg)
}

func (h *ExchangeRateHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var cfg model.ExchangeRateConfig
	if !decode(w, r, &cfg) {
		return
	}
	cfg.ID = id
	if err := h.svc.Update(r.Context(), &cfg); err != nil {
		h.writeError(w, r, &cfg, err)
		return
	}
	updated, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *ExchangeRateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Apply re-prices the stored costs of the rate's payer account and period.
func (h *ExchangeRateHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.Apply(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *ExchangeRateHandler) writeError(w http.ResponseWriter, r *http.Request, cfg *model.ExchangeRateConfig, err error) {
	if errors.Is(err, service.ErrConfigurationExists) {
		apierrors.NewConfigurationExistsError(cfg.PayerAccountID, cfg.BillingPeriod).Write(w, r)
		return
	}
	writeError(w, r, h.logger, err)
}
