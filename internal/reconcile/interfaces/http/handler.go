package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/coverage"
	reconcileapp "windgen-cloud/internal/reconcile/application"
	"windgen-cloud/internal/reconcile/report"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

const (
	timeLayout   = time.RFC3339
	maxBodyBytes = 1 << 20
)

// Handler serves reconcile, coverage and canonical endpoints.
type Handler struct {
	service *reconcileapp.Service
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *reconcileapp.Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("reconcile handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

// ServeHTTP routes /api/v1/reconcile, /api/v1/coverage and /api/v1/canonical.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/reconcile":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleReconcile(w, r)
	case "/api/v1/coverage":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCoverage(w, r)
	case "/api/v1/canonical":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCanonical(w, r)
	case "/api/v1/canonical/override":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleOverride(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		http.Error(w, "request body required", http.StatusBadRequest)
		return
	}

	if body[0] == '[' {
		var reqs []reconcileapp.Request
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if len(reqs) == 0 {
			http.Error(w, "no requests", http.StatusBadRequest)
			return
		}
		results, err := h.service.ReconcileMany(r.Context(), reqs)
		if err != nil {
			h.logger.Printf("reconcile api: batch error: %v", err)
		}
		resp := map[string]any{"results": results}
		if err != nil {
			resp["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var req reconcileapp.Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	result, err := h.service.Reconcile(r.Context(), req)
	if err != nil {
		h.logger.Printf("reconcile api: source=%s error: %v", req.Source, err)
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCoverage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := strings.ToUpper(q.Get("source"))
	if source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := reconcileapp.CoverageRequest{
		Source:      telemetry.Source(source),
		From:        from,
		To:          to,
		Identifiers: splitList(q.Get("identifiers")),
		Granularity: coverage.Granularity(q.Get("granularity")),
		Store:       reconcileapp.Store(q.Get("store")),
	}
	rep, err := h.service.Coverage(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	switch format := q.Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, rep)
	case "pdf":
		data, err := report.BuildCoveragePDF(source, rep)
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		writeAttachment(w, "application/pdf", fmt.Sprintf("coverage_%s.pdf", strings.ToLower(source)), data)
	case "xlsx":
		var records []canonical.Record
		if req.Store == reconcileapp.StoreCanonical {
			granularity := canonical.GranularityHour
			if req.Granularity == coverage.GranularityMonth {
				granularity = canonical.GranularityMonth
			}
			records, err = h.service.Canonical(r.Context(), canonical.Scope{
				Granularity: granularity,
				Source:      source,
				From:        from,
				To:          to,
				UnitIDs:     reportIdentifiers(rep),
			})
			if err != nil {
				respondError(w, err)
				return
			}
		}
		data, err := report.BuildCoverageXLSX(source, rep, records)
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", fmt.Sprintf("coverage_%s.xlsx", strings.ToLower(source)), data)
	default:
		http.Error(w, "format must be json, xlsx or pdf", http.StatusBadRequest)
	}
}

func (h *Handler) handleCanonical(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	if source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.service.Canonical(r.Context(), canonical.Scope{
		Granularity: canonical.Granularity(q.Get("granularity")),
		Source:      source,
		From:        from,
		To:          to,
		UnitIDs:     splitList(q.Get("unit_ids")),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if records == nil {
		records = []canonical.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type overrideRequest struct {
	Source           string                `json:"source"`
	GenerationUnitID string                `json:"generation_unit_id"`
	PeriodStart      time.Time             `json:"period_start"`
	Granularity      canonical.Granularity `json:"granularity"`
	Value            *float64              `json:"value"`
	Reason           string                `json:"reason"`
	By               string                `json:"by"`
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Source == "" || req.GenerationUnitID == "" || req.PeriodStart.IsZero() || req.Value == nil {
		http.Error(w, "source, generation_unit_id, period_start and value are required", http.StatusBadRequest)
		return
	}
	granularity := req.Granularity
	if granularity == "" {
		granularity = canonical.GranularityHour
	}
	key := canonical.Key{
		Granularity:      granularity,
		PeriodStart:      req.PeriodStart.UTC(),
		GenerationUnitID: req.GenerationUnitID,
		Source:           strings.ToUpper(req.Source),
	}
	if err := h.service.Override(r.Context(), key, *req.Value, req.Reason, req.By); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case reconcileapp.IsScopeError(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, canonical.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, reconcileapp.ErrInvalidRange),
		errors.Is(err, reconcileapp.ErrInvalidStore),
		errors.Is(err, reconcileapp.ErrOverrideIncomplete),
		errors.Is(err, coverage.ErrInvalidGranularity),
		errors.Is(err, canonical.ErrInvalidGranularity),
		errors.Is(err, telemetry.ErrUnknownSource):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAttachment(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func reportIdentifiers(rep coverage.Report) []string {
	ids := make([]string, 0, len(rep.PerIdentifier))
	for _, item := range rep.PerIdentifier {
		ids = append(ids, item.Identifier)
	}
	return ids
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
