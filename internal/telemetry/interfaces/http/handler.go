package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	telemetryapp "windgen-cloud/internal/telemetry/application"
)

const maxBodyBytes = 32 << 20

// IngestHandler accepts raw generation payloads as a JSON object, a JSON array
// or JSON Lines.
type IngestHandler struct {
	service *telemetryapp.IngestService
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *telemetryapp.IngestService, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("raw ingest handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP ingests raw records.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("raw ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	payloads, bad, err := decodePayloads(body, r.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Printf("raw ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(payloads) == 0 && len(bad) == 0 {
		http.Error(w, "no records", http.StatusBadRequest)
		return
	}

	result, err := h.service.Ingest(r.Context(), payloads)
	if err != nil {
		h.logger.Printf("raw ingest: ingest error: %v", err)
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}
	result.Received += len(bad)
	result.Invalid += len(bad)

	errs := make([]string, 0, len(bad)+len(result.Errors))
	for _, e := range bad {
		errs = append(errs, e.Error())
	}
	for _, e := range result.Errors {
		errs = append(errs, e.Error())
	}
	resp := map[string]any{
		"received": result.Received,
		"applied":  result.Applied,
		"dropped":  result.Dropped,
		"invalid":  result.Invalid,
		"failed":   result.Failed,
		"unmapped": result.Unmapped,
		"errors":   errs,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func decodePayloads(body []byte, contentType string) ([]telemetryapp.Payload, []error, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil, nil
	}
	if strings.Contains(contentType, "ndjson") || strings.Contains(contentType, "jsonl") {
		return telemetryapp.DecodeJSONLines(bytes.NewReader(trimmed))
	}
	switch trimmed[0] {
	case '[':
		var payloads []telemetryapp.Payload
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, nil, err
		}
		return payloads, nil, nil
	case '{':
		if bytes.Contains(trimmed, []byte("\n{")) {
			return telemetryapp.DecodeJSONLines(bytes.NewReader(trimmed))
		}
		var payload telemetryapp.Payload
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, nil, err
		}
		return []telemetryapp.Payload{payload}, nil, nil
	default:
		return nil, nil, errors.New("body must be a json object, array or json lines")
	}
}
