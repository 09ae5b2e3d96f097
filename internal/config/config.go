// Package config resolves and validates floodset settings. The CLI layer
// collects raw values from flags, FLOODSET_* environment variables, and the
// .floodset.yaml config file via viper; Validate turns the raw input into a
// typed Config or a knob-named error.
package config

import (
	"errors"
	"fmt"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// Defaults for every knob. The CLI registers these with viper so that flag
// help text, env fallback, and config-file merging all agree.
const (
	DefaultYears             = 3
	DefaultMonths            = 12
	DefaultMinSeverity       = domain.SigWarning
	DefaultStrictness        = string(domain.StrictnessLenient)
	DefaultRatio             = 1.0
	DefaultExclusionRadiusKM = 50.0
	DefaultExclusionWindow   = "72h"
	DefaultMaxDisplacementKM = 55.6
	DefaultMaxTimeShift      = "672h"
	DefaultMaxRetries        = 8
	DefaultWorkers           = 4
	DefaultHTTPTimeout       = "30s"
	DefaultCacheBackend      = cache.BackendSQLite
	DefaultCacheDir          = ".floodset-cache"
	DefaultOutputFile        = "flood_dataset.csv"
	DefaultKafkaTopic        = "flood-dataset-samples"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultShutdownTimeout   = "10s"
)

// RawInput holds the unvalidated values from all sources. Viper unmarshals
// into this struct; field tags match the flag names.
type RawInput struct {
	State          string `mapstructure:"state"`
	County         string `mapstructure:"county"`
	Years          int    `mapstructure:"years"`
	Months         int    `mapstructure:"months"`
	MinSeverity    string `mapstructure:"min-severity"`
	Strictness     string `mapstructure:"strictness"`
	FloodStageFile string `mapstructure:"flood-stage-file"`

	Ratio             float64 `mapstructure:"ratio"`
	ExclusionRadiusKM float64 `mapstructure:"exclusion-radius-km"`
	ExclusionWindow   string  `mapstructure:"exclusion-window"`
	MaxDisplacementKM float64 `mapstructure:"max-displacement-km"`
	MaxTimeShift      string  `mapstructure:"max-time-shift"`
	MaxRetries        int     `mapstructure:"max-retries"`

	Workers     int    `mapstructure:"workers"`
	HTTPTimeout string `mapstructure:"http-timeout"`

	CacheBackend   string `mapstructure:"cache-backend"`
	CacheDir       string `mapstructure:"cache-dir"`
	CacheDBConnect string `mapstructure:"cache-db-connect"`

	OutputFile  string `mapstructure:"output-file"`
	ParquetFile string `mapstructure:"parquet-file"`

	CDOToken   string `mapstructure:"cdo-token"`
	USGSAPIKey string `mapstructure:"usgs-api-key"`

	KafkaBrokers string `mapstructure:"kafka-brokers"`
	KafkaTopic   string `mapstructure:"kafka-topic"`

	HTTPAddr        string `mapstructure:"http-addr"`
	LogLevel        string `mapstructure:"log-level"`
	LogFormat       string `mapstructure:"log-format"`
	ShutdownTimeout string `mapstructure:"shutdown-timeout"`
}

// Config holds the validated, typed settings for one build run.
type Config struct {
	State          string
	County         string
	Years          int
	Months         int
	MinSeverity    string
	Strictness     domain.Strictness
	FloodStageFile string

	Ratio             float64
	ExclusionRadiusKM float64
	ExclusionWindow   time.Duration
	MaxDisplacementKM float64
	MaxTimeShift      time.Duration
	MaxRetries        int

	Workers     int
	HTTPTimeout time.Duration

	CacheBackend   string
	CacheDir       string
	CacheDBConnect string // Please use env var as this is plaintext

	OutputFile  string
	ParquetFile string

	CDOToken   string
	USGSAPIKey string

	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether samples should be published after the output
// files are written. Publishing is opt-in via kafka-brokers.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// PrecipEnabled reports whether 24h precipitation enrichment can run. The
// NOAA CDO API requires a token; without one the precip column stays null.
func (c *Config) PrecipEnabled() bool {
	return c.CDOToken != ""
}

// Validate checks the raw input and returns a typed Config. Every error
// names the offending knob so the CLI message points at the fix.
func Validate(input *RawInput) (*Config, error) {
	if input.County != "" && input.State == "" {
		return nil, errors.New("county requires state")
	}
	if input.Years < 1 || input.Years > 3 {
		return nil, fmt.Errorf("invalid years %d: must be between 1 and 3", input.Years)
	}
	if input.Months < 1 || input.Months > 12 {
		return nil, fmt.Errorf("invalid months %d: must be between 1 and 12", input.Months)
	}

	switch input.MinSeverity {
	case domain.SigStatement, domain.SigAdvisory, domain.SigWatch, domain.SigWarning:
	default:
		return nil, fmt.Errorf("invalid min-severity %q: must be Statement, Advisory, Watch, or Warning", input.MinSeverity)
	}

	strictness := domain.Strictness(input.Strictness)
	switch strictness {
	case domain.StrictnessOff, domain.StrictnessLenient, domain.StrictnessStrict:
	default:
		return nil, fmt.Errorf("invalid strictness %q: must be off, lenient, or strict", input.Strictness)
	}

	if input.Ratio <= 0 {
		return nil, fmt.Errorf("invalid ratio %v: must be positive", input.Ratio)
	}
	if input.ExclusionRadiusKM <= 0 {
		return nil, fmt.Errorf("invalid exclusion-radius-km %v: must be positive", input.ExclusionRadiusKM)
	}
	exclusionWindow, err := parsePositiveDuration("exclusion-window", input.ExclusionWindow)
	if err != nil {
		return nil, err
	}
	// Displacement is drawn from (radius, max-displacement] and the time
	// shift from (window, max-time-shift], so each cap must clear its floor
	// or no candidate can ever escape the exclusion zone.
	if input.MaxDisplacementKM <= input.ExclusionRadiusKM {
		return nil, fmt.Errorf("invalid max-displacement-km %v: must exceed exclusion-radius-km %v",
			input.MaxDisplacementKM, input.ExclusionRadiusKM)
	}
	maxTimeShift, err := parsePositiveDuration("max-time-shift", input.MaxTimeShift)
	if err != nil {
		return nil, err
	}
	if maxTimeShift <= exclusionWindow {
		return nil, fmt.Errorf("invalid max-time-shift %v: must exceed exclusion-window %v",
			maxTimeShift, exclusionWindow)
	}
	if input.MaxRetries < 1 {
		return nil, fmt.Errorf("invalid max-retries %d: must be at least 1", input.MaxRetries)
	}

	if input.Workers < 1 {
		return nil, fmt.Errorf("invalid workers %d: must be at least 1", input.Workers)
	}
	httpTimeout, err := parsePositiveDuration("http-timeout", input.HTTPTimeout)
	if err != nil {
		return nil, err
	}

	switch input.CacheBackend {
	case cache.BackendSQLite, cache.BackendPostgres, cache.BackendFS:
	default:
		return nil, fmt.Errorf("invalid cache-backend %q: must be sqlite, postgres, or fs", input.CacheBackend)
	}
	if input.CacheDir == "" {
		return nil, errors.New("cache-dir is required")
	}
	if input.CacheBackend == cache.BackendPostgres && input.CacheDBConnect == "" {
		return nil, errors.New("cache-db-connect is required when cache-backend is postgres")
	}

	if input.OutputFile == "" {
		return nil, errors.New("output-file is required")
	}

	var brokers []string
	if input.KafkaBrokers != "" {
		brokers = sharedcfg.ParseBrokers(input.KafkaBrokers)
	}
	if len(brokers) > 0 && input.KafkaTopic == "" {
		return nil, errors.New("kafka-topic is required when kafka-brokers is set")
	}

	shutdownTimeout, err := parsePositiveDuration("shutdown-timeout", input.ShutdownTimeout)
	if err != nil {
		return nil, err
	}

	return &Config{
		State:          input.State,
		County:         input.County,
		Years:          input.Years,
		Months:         input.Months,
		MinSeverity:    input.MinSeverity,
		Strictness:     strictness,
		FloodStageFile: input.FloodStageFile,

		Ratio:             input.Ratio,
		ExclusionRadiusKM: input.ExclusionRadiusKM,
		ExclusionWindow:   exclusionWindow,
		MaxDisplacementKM: input.MaxDisplacementKM,
		MaxTimeShift:      maxTimeShift,
		MaxRetries:        input.MaxRetries,

		Workers:     input.Workers,
		HTTPTimeout: httpTimeout,

		CacheBackend:   input.CacheBackend,
		CacheDir:       input.CacheDir,
		CacheDBConnect: input.CacheDBConnect,

		OutputFile:  input.OutputFile,
		ParquetFile: input.ParquetFile,

		CDOToken:   input.CDOToken,
		USGSAPIKey: input.USGSAPIKey,

		KafkaBrokers: brokers,
		KafkaTopic:   input.KafkaTopic,

		HTTPAddr:        input.HTTPAddr,
		LogLevel:        input.LogLevel,
		LogFormat:       input.LogFormat,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func parsePositiveDuration(knob, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", knob, raw)
	}
	return d, nil
}
