package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	API           APIConfig
	Export        ExportConfig
	Journal       JournalConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type APIConfig struct {
	Key               string
	BaseURL           string
	HTTPTimeout       time.Duration
	PollInterval      time.Duration
	WaitTimeout       time.Duration
	RequestsPerSecond float64
	Output            string
}

// ExportConfig addresses the bucket that result exports are uploaded to.
type ExportConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type JournalConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SANDWORM_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SANDWORM_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "SANDWORM_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUNE_API_KEY", &cfg.API.Key); err != nil {
		return Config{}, err
	}
	// A blank SANDWORM_API_KEY leaves DUNE_API_KEY in place.
	if raw, ok := lookup("SANDWORM_API_KEY"); ok && strings.TrimSpace(raw) != "" {
		cfg.API.Key = strings.TrimSpace(raw)
	}
	if err := applyString(lookup, "SANDWORM_BASE_URL", &cfg.API.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SANDWORM_HTTP_TIMEOUT", &cfg.API.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SANDWORM_POLL_INTERVAL", &cfg.API.PollInterval); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SANDWORM_WAIT_TIMEOUT", &cfg.API.WaitTimeout); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SANDWORM_REQUESTS_PER_SECOND", &cfg.API.RequestsPerSecond); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_OUTPUT", &cfg.API.Output); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_EXPORT_ENDPOINT", &cfg.Export.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_EXPORT_REGION", &cfg.Export.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_EXPORT_BUCKET", &cfg.Export.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SANDWORM_EXPORT_USE_SSL", &cfg.Export.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_EXPORT_PREFIX", &cfg.Export.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SANDWORM_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SANDWORM_JOURNAL_DSN", &cfg.Journal.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SANDWORM_JOURNAL_MAX_OPEN_CONNS", &cfg.Journal.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SANDWORM_JOURNAL_MAX_IDLE_CONNS", &cfg.Journal.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SANDWORM_JOURNAL_CONN_MAX_IDLE_TIME", &cfg.Journal.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SANDWORM_JOURNAL_CONN_MAX_LIFETIME", &cfg.Journal.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SANDWORM_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "SANDWORM_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.API.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll interval must be positive")
	}
	if cfg.API.WaitTimeout <= 0 {
		return Config{}, fmt.Errorf("wait timeout must be positive")
	}
	if cfg.API.RequestsPerSecond < 0 {
		return Config{}, fmt.Errorf("requests per second must not be negative")
	}
	switch cfg.API.Output {
	case "json", "csv":
	default:
		return Config{}, fmt.Errorf("invalid SANDWORM_OUTPUT: %q", cfg.API.Output)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sandwormctl"},
		API: APIConfig{
			BaseURL:      "https://api.dune.com/api",
			HTTPTimeout:  30 * time.Second,
			PollInterval: time.Second,
			WaitTimeout:  5 * time.Minute,
			Output:       "json",
		},
		Export: ExportConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sandworm-results",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Journal: JournalConfig{
			DSN:             "",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.API.PollInterval = 100 * time.Millisecond
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
