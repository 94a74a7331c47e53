package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "raw_generation_records",
			Help: "Raw generation records stored",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM raw_generation_records")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "canonical_hourly_records",
			Help: "Hourly canonical generation records stored",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM canonical_generation_hourly")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "canonical_overrides",
			Help: "Canonical records carrying a manual override",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT (SELECT COUNT(*) FROM canonical_generation_hourly WHERE is_override) + (SELECT COUNT(*) FROM canonical_generation_monthly WHERE is_override)")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
