package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	telemetryapp "windgen-cloud/internal/telemetry/application"
	telemetry "windgen-cloud/internal/telemetry/domain"
	"windgen-cloud/internal/telemetry/infrastructure/memory"
)

func newHandler(t *testing.T) (*IngestHandler, *memory.RawRepository) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	repo := memory.NewRawRepository()
	svc, err := telemetryapp.NewIngestService(repo, telemetryapp.WithLogger(logger))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h, err := NewIngestHandler(svc, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h, repo
}

func post(h http.Handler, body, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/raw", bytes.NewBufferString(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type ingestResponse struct {
	Received int      `json:"received"`
	Applied  int      `json:"applied"`
	Invalid  int      `json:"invalid"`
	Errors   []string `json:"errors"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) ingestResponse {
	t.Helper()
	var resp ingestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return resp
}

const recordA = `{"source":"entsoe","source_type":"live-api","identifier":"48W-A","period_kind":"hour","period_start":"2024-03-04T00:00:00Z","value":40}`
const recordB = `{"source":"entsoe","source_type":"live-api","identifier":"48W-A","period_kind":"hour","period_start":"2024-03-04T01:00:00Z","value":42}`

func TestIngestHandlerArray(t *testing.T) {
	h, repo := newHandler(t)
	rr := post(h, "["+recordA+","+recordB+"]", "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode(t, rr)
	if resp.Received != 2 || resp.Applied != 2 || resp.Invalid != 0 {
		t.Fatalf("unexpected counts %+v", resp)
	}
	stored, _ := repo.QueryRaw(context.Background(), telemetry.RawQuery{Source: telemetry.SourceENTSOE})
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(stored))
	}
}

func TestIngestHandlerSingleObject(t *testing.T) {
	h, _ := newHandler(t)
	resp := decode(t, post(h, recordA, "application/json"))
	if resp.Received != 1 || resp.Applied != 1 {
		t.Fatalf("unexpected counts %+v", resp)
	}
}

func TestIngestHandlerJSONLinesCountsBadLines(t *testing.T) {
	h, _ := newHandler(t)
	body := strings.Join([]string{recordA, "not json", recordB}, "\n")
	resp := decode(t, post(h, body, "application/x-ndjson"))
	if resp.Received != 3 || resp.Applied != 2 || resp.Invalid != 1 {
		t.Fatalf("unexpected counts %+v", resp)
	}
	if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "line 2") {
		t.Fatalf("expected line 2 error, got %v", resp.Errors)
	}
}

func TestIngestHandlerInvalidRecordIsReported(t *testing.T) {
	h, _ := newHandler(t)
	bad := `{"source":"nordpool","source_type":"live-api","identifier":"x","period_kind":"hour","period_start":"2024-03-04T00:00:00Z","value":1}`
	resp := decode(t, post(h, "["+recordA+","+bad+"]", ""))
	if resp.Applied != 1 || resp.Invalid != 1 || len(resp.Errors) != 1 {
		t.Fatalf("unexpected counts %+v", resp)
	}
}

func TestIngestHandlerRejects(t *testing.T) {
	h, _ := newHandler(t)
	if rr := post(h, "{broken", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken json, got %d", rr.Code)
	}
	if rr := post(h, "   ", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/raw", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestNewIngestHandlerRequiresService(t *testing.T) {
	if _, err := NewIngestHandler(nil, nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}
