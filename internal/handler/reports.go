package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finopsmind/billing/internal/apierrors"
	"github.com/finopsmind/billing/internal/export"
	"github.com/finopsmind/billing/internal/service"
)

// ReportHandler serves customer reports, their exports and the dashboard.
type ReportHandler struct {
	svc      *service.ReportService
	exporter *export.Exporter
	logger   *slog.Logger
}

func NewReportHandler(svc *service.ReportService, exporter *export.Exporter, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, exporter: exporter, logger: logger}
}

// Customer returns the report of one customer. A degraded report is still
// a 200: clients read its status field.
func (h *ReportHandler) Customer(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	report, err := h.svc.CustomerReport(r.Context(), chi.URLParam(r, "vat"), period)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// Export renders the customer report as CSV or PDF.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		apierrors.NewBadRequestError("format must be csv or pdf").Write(w, r)
		return
	}
	report, err := h.svc.CustomerReport(r.Context(), chi.URLParam(r, "vat"), period)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Render(r.Context(), &buf, report, format); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(report, format)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Dashboard(r.Context(), period)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
