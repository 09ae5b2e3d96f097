// Package cli defines the floodset command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/couchcryptid/flood-dataset/internal/config"
)

// All linker flags will be set by goreleaser infra at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cfg holds the validated, final configuration.
var cfg = &config.Config{}

// input holds the raw, unvalidated configuration from all sources (file, env,
// flags). Viper will unmarshal into this struct.
var input = &config.RawInput{}

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:   "floodset",
	Short: "Build labeled flood / non-flood datasets from public US weather archives.",
	Long: `Floodset assembles a reproducible machine-learning dataset: archived NWS
flood alerts become the positive samples, deterministic perturbation
synthesizes matched negatives, and USGS gauge, NOAA precipitation, and
elevation observations enrich every row.`,
	Version:            version,
	SilenceErrors:      true,
	SilenceUsage:       true,
	DisableSuggestions: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add primary subcommands to the root command
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	// Add the cache subcommands to the parent cache command
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	// Bind all persistent flags of rootCmd to Viper
	rootCmd.PersistentFlags().String("state", "", "Restrict the build to one state (full name, e.g. Texas)")
	rootCmd.PersistentFlags().String("county", "", "Restrict the build to one county (requires --state)")
	rootCmd.PersistentFlags().Int("years", config.DefaultYears, "Number of past years to cover (1-3)")
	rootCmd.PersistentFlags().Int("months", config.DefaultMonths, "First N months of each year to cover (1-12)")
	rootCmd.PersistentFlags().String("min-severity", config.DefaultMinSeverity, "Minimum VTEC significance: Statement, Advisory, Watch, or Warning")
	rootCmd.PersistentFlags().String("strictness", config.DefaultStrictness, "Gauge corroboration mode: off, lenient, or strict")
	rootCmd.PersistentFlags().String("flood-stage-file", "", "CSV of station_number,flood_stage_ft pairs for corroboration")
	rootCmd.PersistentFlags().Float64("ratio", config.DefaultRatio, "Negative samples per positive")
	rootCmd.PersistentFlags().Float64("exclusion-radius-km", config.DefaultExclusionRadiusKM, "No negative within this distance of a positive")
	rootCmd.PersistentFlags().String("exclusion-window", config.DefaultExclusionWindow, "No negative within this duration of a nearby positive")
	rootCmd.PersistentFlags().Float64("max-displacement-km", config.DefaultMaxDisplacementKM, "Upper bound on the spatial perturbation")
	rootCmd.PersistentFlags().String("max-time-shift", config.DefaultMaxTimeShift, "Upper bound on the temporal perturbation")
	rootCmd.PersistentFlags().Int("max-retries", config.DefaultMaxRetries, "Perturbation attempts per negative before dropping the slot")
	rootCmd.PersistentFlags().Int("workers", config.DefaultWorkers, "Number of concurrent fetch and enrichment workers")
	rootCmd.PersistentFlags().String("http-timeout", config.DefaultHTTPTimeout, "Timeout for upstream API requests")
	rootCmd.PersistentFlags().String("cache-backend", config.DefaultCacheBackend, "Fetch cache backend: sqlite, postgres, or fs")
	rootCmd.PersistentFlags().String("cache-dir", config.DefaultCacheDir, "Directory for the sqlite or fs cache")
	rootCmd.PersistentFlags().String("cache-db-connect", "", "PostgreSQL connection string (prefer FLOODSET_CACHE_DB_CONNECT)")
	rootCmd.PersistentFlags().StringP("output-file", "o", config.DefaultOutputFile, "Path for the CSV dataset")
	rootCmd.PersistentFlags().String("parquet-file", "", "Optional path for a Parquet copy of the dataset")
	rootCmd.PersistentFlags().String("cdo-token", "", "NOAA CDO API token; enables precipitation enrichment")
	rootCmd.PersistentFlags().String("usgs-api-key", "", "Optional USGS API key for higher rate limits")
	rootCmd.PersistentFlags().String("kafka-brokers", "", "Comma-separated Kafka brokers; enables publishing")
	rootCmd.PersistentFlags().String("kafka-topic", config.DefaultKafkaTopic, "Kafka topic for published samples")
	rootCmd.PersistentFlags().String("http-addr", "", "Optional address for health and metrics endpoints, e.g. :8080")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "Log format: json or text")
	rootCmd.PersistentFlags().String("shutdown-timeout", config.DefaultShutdownTimeout, "Grace period for draining the HTTP server")
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		slog.Error("failed to bind root flags", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Check if a specific config file is provided
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".floodset") // Name of config file (without extension)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")     // Look in the current directory
		viper.AddConfigPath("$HOME") // Look in the home directory
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("FLOODSET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // Read in environment variables that match

	// Set defaults in Viper
	viper.SetDefault("state", "")
	viper.SetDefault("county", "")
	viper.SetDefault("years", config.DefaultYears)
	viper.SetDefault("months", config.DefaultMonths)
	viper.SetDefault("min-severity", config.DefaultMinSeverity)
	viper.SetDefault("strictness", config.DefaultStrictness)
	viper.SetDefault("flood-stage-file", "")
	viper.SetDefault("ratio", config.DefaultRatio)
	viper.SetDefault("exclusion-radius-km", config.DefaultExclusionRadiusKM)
	viper.SetDefault("exclusion-window", config.DefaultExclusionWindow)
	viper.SetDefault("max-displacement-km", config.DefaultMaxDisplacementKM)
	viper.SetDefault("max-time-shift", config.DefaultMaxTimeShift)
	viper.SetDefault("max-retries", config.DefaultMaxRetries)
	viper.SetDefault("workers", config.DefaultWorkers)
	viper.SetDefault("http-timeout", config.DefaultHTTPTimeout)
	viper.SetDefault("cache-backend", config.DefaultCacheBackend)
	viper.SetDefault("cache-dir", config.DefaultCacheDir)
	viper.SetDefault("cache-db-connect", "")
	viper.SetDefault("output-file", config.DefaultOutputFile)
	viper.SetDefault("parquet-file", "")
	viper.SetDefault("cdo-token", "")
	viper.SetDefault("usgs-api-key", "")
	viper.SetDefault("kafka-brokers", "")
	viper.SetDefault("kafka-topic", config.DefaultKafkaTopic)
	viper.SetDefault("http-addr", "")
	viper.SetDefault("log-level", config.DefaultLogLevel)
	viper.SetDefault("log-format", config.DefaultLogFormat)
	viper.SetDefault("shutdown-timeout", config.DefaultShutdownTimeout)
}

// sharedSetup unmarshals config and runs validation.
func sharedSetup(_ *cobra.Command, _ []string) error {
	// 1. Read config file. This merges defaults, file, env, and flags.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, which is fine; we'll use defaults/env/flags.
	}

	// 2. Unmarshal all resolved values from Viper into our raw input struct.
	if err := viper.Unmarshal(input); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	// 3. Run all validation and complex parsing.
	validated, err := config.Validate(input)
	if err != nil {
		return err
	}
	*cfg = *validated
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
