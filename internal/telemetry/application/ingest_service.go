package application

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"windgen-cloud/internal/batch"
	masterapp "windgen-cloud/internal/masterdata/application"
	masterdata "windgen-cloud/internal/masterdata/domain"
	"windgen-cloud/internal/observability/metrics"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

const (
	defaultWorkers = 4
	maxLineBytes   = 4 << 20
	maxKeptErrors  = 100
)

// IngestResult counts what happened to each received record.
type IngestResult struct {
	Received int
	Applied  int
	Dropped  int
	Invalid  int
	Failed   int
	Unmapped int
	Errors   []error
}

func (r *IngestResult) add(other IngestResult) {
	r.Received += other.Received
	r.Applied += other.Applied
	r.Dropped += other.Dropped
	r.Invalid += other.Invalid
	r.Failed += other.Failed
	r.Unmapped += other.Unmapped
	for _, err := range other.Errors {
		r.keep(err)
	}
}

func (r *IngestResult) keep(err error) {
	if len(r.Errors) < maxKeptErrors {
		r.Errors = append(r.Errors, err)
	}
}

// FilesResult summarises a multi-file ingestion.
type FilesResult struct {
	IngestResult
	Files       int
	FailedFiles []string
}

// IngestService validates raw payloads and upserts them in bounded batches.
type IngestService struct {
	repo       telemetry.RawRepository
	directory  masterdata.UnitDirectory
	precedence telemetry.Precedence
	timezones  Timezones
	batchSize  int
	workers    int
	logger     *log.Logger
}

// IngestOption configures the service.
type IngestOption func(*IngestService)

// WithBatchSize overrides the batch size.
func WithBatchSize(size int) IngestOption {
	return func(s *IngestService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithWorkers overrides the file ingestion pool size.
func WithWorkers(n int) IngestOption {
	return func(s *IngestService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPrecedence sets the precedence used to coalesce records within a batch.
// It should match the repository's precedence.
func WithPrecedence(p telemetry.Precedence) IngestOption {
	return func(s *IngestService) { s.precedence = p }
}

// WithUnitDirectory enables mapping checks. Unmapped records are still stored.
func WithUnitDirectory(dir masterdata.UnitDirectory) IngestOption {
	return func(s *IngestService) { s.directory = dir }
}

// WithTimezones sets per-source timezone overrides for settlement and local
// time payloads. They should match the reconcile source settings.
func WithTimezones(zones Timezones) IngestOption {
	return func(s *IngestService) { s.timezones = zones }
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) IngestOption {
	return func(s *IngestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewIngestService constructs an ingest service.
func NewIngestService(repo telemetry.RawRepository, opts ...IngestOption) (*IngestService, error) {
	if repo == nil {
		return nil, errors.New("ingest service: nil repository")
	}
	s := &IngestService{
		repo:       repo,
		precedence: telemetry.DefaultPrecedence(),
		batchSize:  batch.DefaultSize,
		workers:    defaultWorkers,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest converts payloads to raw records and stores them.
func (s *IngestService) Ingest(ctx context.Context, payloads []Payload) (IngestResult, error) {
	var result IngestResult
	records := make([]telemetry.RawRecord, 0, len(payloads))
	for _, p := range payloads {
		rec, err := p.ToRecordIn(s.timezones)
		if err != nil {
			result.Received++
			result.Invalid++
			result.keep(err)
			metrics.AddIngestRecords(p.Source, metrics.OutcomeInvalid, 1)
			s.logger.Printf("ingest: skipped record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	stored, err := s.IngestRecords(ctx, records)
	result.add(stored)
	return result, err
}

// IngestRecords validates records, coalesces duplicate keys and upserts them in
// batches. A failed batch is retried once and then skipped; the returned error
// is non-nil only when ctx ends the run.
func (s *IngestService) IngestRecords(ctx context.Context, records []telemetry.RawRecord) (IngestResult, error) {
	start := time.Now()
	result := IngestResult{Received: len(records)}

	valid := make([]telemetry.RawRecord, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Invalid++
			result.keep(err)
			metrics.AddIngestRecords(string(rec.Source), metrics.OutcomeInvalid, 1)
			s.logger.Printf("ingest: skipped record: %v", err)
			continue
		}
		valid = append(valid, rec)
	}

	if err := s.checkMappings(ctx, valid, &result); err != nil {
		return result, err
	}

	coalesced := s.coalesce(valid)
	writer := batch.NewWriter[telemetry.RawRecord]("raw",
		batch.WithSize[telemetry.RawRecord](s.batchSize),
		batch.WithLogger[telemetry.RawRecord](s.logger),
	)
	written, err := writer.Write(ctx, coalesced, s.repo.UpsertRaw)
	result.Applied = written.Written
	result.Failed = written.Failed
	result.Dropped = len(valid) - written.Written - written.Failed
	for _, werr := range written.Errors {
		result.keep(werr)
		metrics.IncBatchFailure("raw")
	}

	label := sourceLabel(coalesced)
	metrics.AddIngestRecords(label, metrics.OutcomeApplied, result.Applied)
	metrics.AddIngestRecords(label, metrics.OutcomeDropped, result.Dropped)
	metrics.AddIngestRecords(label, metrics.OutcomeFailed, result.Failed)

	outcome := metrics.ResultSuccess
	if err != nil || result.Failed > 0 {
		outcome = metrics.ResultError
	}
	metrics.ObserveIngest(outcome, time.Since(start))
	s.logger.Printf("event=raw.ingest received=%d applied=%d dropped=%d invalid=%d failed=%d unmapped=%d",
		result.Received, result.Applied, result.Dropped, result.Invalid, result.Failed, result.Unmapped)
	return result, err
}

// ClearRaw removes the raw records of a scope before a full re-import.
func (s *IngestService) ClearRaw(ctx context.Context, query telemetry.RawQuery) (int64, error) {
	if query.Source == "" || query.From.IsZero() || query.To.IsZero() || !query.From.Before(query.To) {
		return 0, errors.New("ingest service: clear requires source and a bounded range")
	}
	deleted, err := s.repo.DeleteRaw(ctx, query)
	if err != nil {
		return 0, err
	}
	s.logger.Printf("event=raw.clear source=%s from=%s to=%s deleted=%d",
		query.Source, query.From.Format(time.RFC3339), query.To.Format(time.RFC3339), deleted)
	return deleted, nil
}

// IngestFiles ingests JSON Lines files with a bounded worker pool. A file that
// cannot be read is logged and counted; the other files continue.
func (s *IngestService) IngestFiles(ctx context.Context, paths []string) (FilesResult, error) {
	var (
		mu     sync.Mutex
		result FilesResult
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, path := range paths {
		eg.Go(func() error {
			fileResult, err := s.ingestFile(egctx, path)
			mu.Lock()
			defer mu.Unlock()
			result.Files++
			result.add(fileResult)
			if err != nil {
				if egctx.Err() != nil {
					return egctx.Err()
				}
				result.FailedFiles = append(result.FailedFiles, path)
				metrics.IncIngestFile(metrics.ResultError)
				s.logger.Printf("ingest: file %s failed: %v", path, err)
				return nil
			}
			metrics.IncIngestFile(metrics.ResultSuccess)
			return nil
		})
	}
	err := eg.Wait()
	return result, err
}

func (s *IngestService) ingestFile(ctx context.Context, path string) (IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestResult{}, err
	}
	defer f.Close()

	payloads, bad, err := DecodeJSONLines(f)
	if err != nil {
		return IngestResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	result, err := s.Ingest(ctx, payloads)
	for _, decodeErr := range bad {
		result.Received++
		result.Invalid++
		result.keep(decodeErr)
	}
	return result, err
}

// DecodeJSONLines reads one payload per line. Lines that are not valid JSON are
// returned as validation errors; blank lines are ignored.
func DecodeJSONLines(r io.Reader) ([]Payload, []error, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var (
		payloads []Payload
		bad      []error
		line     int
	)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			bad = append(bad, &telemetry.ValidationError{Field: fmt.Sprintf("line %d", line), Reason: err.Error()})
			continue
		}
		payloads = append(payloads, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return payloads, bad, nil
}

func (s *IngestService) checkMappings(ctx context.Context, records []telemetry.RawRecord, result *IngestResult) error {
	if s.directory == nil || len(records) == 0 {
		return nil
	}
	catalogs := make(map[telemetry.Source]*masterapp.Catalog)
	for _, rec := range records {
		catalog, ok := catalogs[rec.Source]
		if !ok {
			loaded, err := masterapp.LoadCatalog(ctx, s.directory, string(rec.Source))
			if err != nil {
				return fmt.Errorf("ingest service: load catalog %s: %w", rec.Source, err)
			}
			catalogs[rec.Source] = loaded
			catalog = loaded
		}
		if _, err := catalog.Resolve(rec.Identifier, rec.PeriodStart); err != nil {
			result.Unmapped++
			result.keep(err)
			metrics.AddIngestRecords(string(rec.Source), metrics.OutcomeUnmapped, 1)
		}
	}
	return nil
}

func (s *IngestService) coalesce(records []telemetry.RawRecord) []telemetry.RawRecord {
	index := make(map[telemetry.Key]int, len(records))
	out := make([]telemetry.RawRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key()
		i, ok := index[key]
		if !ok {
			merged, _ := telemetry.Merge(nil, rec, s.precedence)
			index[key] = len(out)
			out = append(out, merged)
			continue
		}
		merged, _ := telemetry.Merge(&out[i], rec, s.precedence)
		out[i] = merged
	}
	return out
}

// sourceLabel returns the common source of records, or "mixed".
func sourceLabel(records []telemetry.RawRecord) string {
	if len(records) == 0 {
		return "none"
	}
	label := string(records[0].Source)
	for _, rec := range records[1:] {
		if string(rec.Source) != label {
			return "mixed"
		}
	}
	return label
}
