package application

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	telemetry "windgen-cloud/internal/telemetry/domain"
)

// ScheduleConfig defines the daily gaps run.
type ScheduleConfig struct {
	DailyAt      string   `yaml:"daily_at"`
	Sources      []string `yaml:"sources"`
	LookbackDays int      `yaml:"lookback_days"`
	Mode         Mode     `yaml:"mode"`
}

// Config defines reconcile configuration.
type Config struct {
	DatabaseURL       string                    `yaml:"database_url"`
	HTTPAddr          string                    `yaml:"http_addr"`
	BatchSize         int                       `yaml:"batch_size"`
	Workers           int                       `yaml:"workers"`
	Precedence        string                    `yaml:"precedence"`
	MaxCapacityFactor float64                   `yaml:"max_capacity_factor"`
	WindowExtension   time.Duration             `yaml:"window_extension"`
	Sources           map[string]SourceSettings `yaml:"sources"`
	Schedule          ScheduleConfig            `yaml:"schedule"`
	ReportRoot        string                    `yaml:"report_root"`
	RollupMonths      bool                      `yaml:"rollup_months"`
	AlertWebhookURL   string                    `yaml:"alert_webhook_url"`
}

// LoadConfig loads .env, then the yaml file named by GENRECON_CONFIG, then
// environment fallbacks for anything still unset.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		BatchSize:         getenvIntDefault("GENRECON_BATCH_SIZE", 500),
		Workers:           getenvIntDefault("GENRECON_WORKERS", defaultWorkers),
		Precedence:        os.Getenv("GENRECON_PRECEDENCE"),
		MaxCapacityFactor: getenvFloatDefault("GENRECON_MAX_CAPACITY_FACTOR", 0),
		WindowExtension:   getenvDurationDefault("GENRECON_WINDOW_EXTENSION", time.Hour),
		ReportRoot:        getenvDefault("GENRECON_REPORT_ROOT", filepath.FromSlash("var/reports/reconcile")),
		RollupMonths:      getenvBoolDefault("GENRECON_ROLLUP_MONTHS", false),
		AlertWebhookURL:   os.Getenv("GENRECON_ALERT_WEBHOOK_URL"),
	}

	if path := os.Getenv("GENRECON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = getenvDefault("GENRECON_DAILY_AT", "03:00")
	}
	if len(cfg.Schedule.Sources) == 0 {
		cfg.Schedule.Sources = splitCSV(getenvDefault("GENRECON_SCHEDULE_SOURCES", ""))
	}
	if cfg.Schedule.LookbackDays <= 0 {
		cfg.Schedule.LookbackDays = getenvIntDefault("GENRECON_LOOKBACK_DAYS", 3)
	}
	if cfg.Schedule.Mode == "" {
		cfg.Schedule.Mode = ModeGapsOnly
	}
	if !cfg.Schedule.Mode.IsValid() {
		return cfg, ErrInvalidMode
	}
	if _, err := parseDailyAt(cfg.Schedule.DailyAt); err != nil {
		return cfg, errors.New("reconcile: schedule daily_at must be HH:MM")
	}
	for _, source := range cfg.Schedule.Sources {
		if !telemetry.Source(strings.ToUpper(source)).IsValid() {
			return cfg, errors.New("reconcile: unknown schedule source " + source)
		}
	}
	if cfg.ReportRoot == "" {
		return cfg, errors.New("reconcile: report root required")
	}
	return cfg, nil
}

// Options translates the configuration into service options.
func (c Config) Options() ([]Option, error) {
	opts := []Option{
		WithBatchSize(c.BatchSize),
		WithWorkers(c.Workers),
		WithMaxCapacityFactor(c.MaxCapacityFactor),
		WithWindowExtension(c.WindowExtension),
		WithMonthlyRollup(c.RollupMonths),
	}
	if len(c.Sources) > 0 {
		settings := make(map[telemetry.Source]SourceSettings, len(c.Sources))
		for name, s := range c.Sources {
			source := telemetry.Source(strings.ToUpper(name))
			if !source.IsValid() {
				return nil, errors.New("reconcile: unknown source settings " + name)
			}
			if s.Timezone != "" {
				if _, err := time.LoadLocation(s.Timezone); err != nil {
					return nil, err
				}
			}
			settings[source] = s
		}
		opts = append(opts, WithSourceSettings(settings))
	}
	return opts, nil
}

// Timezones returns the configured per-source timezone overrides.
func (c Config) Timezones() map[telemetry.Source]string {
	zones := make(map[telemetry.Source]string)
	for name, s := range c.Sources {
		if s.Timezone != "" {
			zones[telemetry.Source(strings.ToUpper(name))] = s.Timezone
		}
	}
	return zones
}

// ParsedPrecedence returns the configured precedence or the default.
func (c Config) ParsedPrecedence() (telemetry.Precedence, error) {
	if c.Precedence == "" {
		return telemetry.DefaultPrecedence(), nil
	}
	return telemetry.ParsePrecedence(c.Precedence)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
