package main

import (
	"log"

	"windgen-cloud/internal/analytics/domain/canonical"
	masterapp "windgen-cloud/internal/masterdata/application"
	masterdata "windgen-cloud/internal/masterdata/domain"
	reconcileapp "windgen-cloud/internal/reconcile/application"
	telemetryapp "windgen-cloud/internal/telemetry/application"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

type directoryStore interface {
	masterdata.UnitDirectory
	masterdata.UnitDirectoryWriter
}

func newApp(cfg reconcileapp.Config, logger *log.Logger, raw telemetry.RawRepository, canon canonical.Repository, directory directoryStore) (*app, error) {
	precedence, err := cfg.ParsedPrecedence()
	if err != nil {
		return nil, err
	}
	ingest, err := telemetryapp.NewIngestService(raw,
		telemetryapp.WithBatchSize(cfg.BatchSize),
		telemetryapp.WithWorkers(cfg.Workers),
		telemetryapp.WithPrecedence(precedence),
		telemetryapp.WithUnitDirectory(directory),
		telemetryapp.WithTimezones(cfg.Timezones()),
		telemetryapp.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, reconcileapp.WithLogger(logger))
	reconcile, err := reconcileapp.NewService(reconcileapp.NewStorage(raw, canon), directory, opts...)
	if err != nil {
		return nil, err
	}
	units, err := masterapp.NewUnitDirectoryService(directory)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		logger:    logger,
		ingest:    ingest,
		reconcile: reconcile,
		units:     units,
	}, nil
}
