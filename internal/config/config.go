// Package config loads the pipeline's YAML configuration, following the
// teacher's LoadConfig → applyDefaults → applyEnvironmentOverrides →
// ValidateConfig pipeline. A second, independently-loaded YAML file (see
// descriptors.go) carries the per-source adapter/authority descriptors
// and supports hot reload; this file's PipelineConfig does not.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"threatfeed/pkg/circuit"
	"threatfeed/pkg/errors"
	"threatfeed/pkg/secrets"
)

// PipelineConfig is the top-level configuration for one threatfeed
// process: data locations, concurrency, the component HTTP surfaces,
// and defaults shared by every source unless a descriptor overrides them.
type PipelineConfig struct {
	App struct {
		Name      string `yaml:"name"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"app"`

	DataDir              string        `yaml:"data_dir"`
	DescriptorsFile      string        `yaml:"descriptors_file"`
	CycleInterval        time.Duration `yaml:"cycle_interval"`
	MaxConcurrentSources int           `yaml:"max_concurrent_sources"`
	Compress             bool          `yaml:"compress_snapshots"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	API struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"api"`

	Breaker circuit.Config `yaml:"breaker"`
	Secrets secrets.Config `yaml:"secrets"`
}

// LoadConfig loads a PipelineConfig from configFile, applies defaults and
// environment overrides, and validates the result.
func LoadConfig(configFile string) (*PipelineConfig, error) {
	config := &PipelineConfig{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			return nil, errors.StartupFailure("load_config_file", err)
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

func loadConfigFile(filename string, config *PipelineConfig) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config file %q: %w", filename, err)
	}
	return nil
}

func applyDefaults(config *PipelineConfig) {
	if config.App.Name == "" {
		config.App.Name = "threatfeed"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "text"
	}
	if config.DataDir == "" {
		config.DataDir = "./data"
	}
	if config.DescriptorsFile == "" {
		config.DescriptorsFile = "./sources.yaml"
	}
	if config.CycleInterval == 0 {
		config.CycleInterval = 15 * time.Minute
	}
	if config.MaxConcurrentSources == 0 {
		config.MaxConcurrentSources = 3
	}
	if config.Metrics.Addr == "" {
		config.Metrics.Addr = ":9090"
	}
	if config.API.Addr == "" {
		config.API.Addr = ":8080"
	}
	if config.Breaker.FailureThreshold == 0 {
		config.Breaker.FailureThreshold = 5
	}
	if config.Breaker.SuccessThreshold == 0 {
		config.Breaker.SuccessThreshold = 2
	}
	if config.Breaker.Timeout == 0 {
		config.Breaker.Timeout = 5 * time.Minute
	}
	if config.Breaker.HalfOpenMaxCalls == 0 {
		config.Breaker.HalfOpenMaxCalls = 1
	}
}

func applyEnvironmentOverrides(config *PipelineConfig) {
	if v := os.Getenv("THREATFEED_LOG_LEVEL"); v != "" {
		config.App.LogLevel = v
	}
	if v := os.Getenv("THREATFEED_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("THREATFEED_DESCRIPTORS_FILE"); v != "" {
		config.DescriptorsFile = v
	}
	if v := getEnvDuration("THREATFEED_CYCLE_INTERVAL", 0); v != 0 {
		config.CycleInterval = v
	}
	if v := getEnvInt("THREATFEED_MAX_CONCURRENT_SOURCES", 0); v != 0 {
		config.MaxConcurrentSources = v
	}
	if v := getEnvBool("THREATFEED_COMPRESS_SNAPSHOTS", config.Compress); v {
		config.Compress = v
	}
	if v := os.Getenv("THREATFEED_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
	if v := os.Getenv("THREATFEED_API_ADDR"); v != "" {
		config.API.Addr = v
	}
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	return v == "true" || v == "1"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// ValidateConfig runs every validation rule against config, aggregating
// every failure before returning.
func ValidateConfig(config *PipelineConfig) error {
	validator := &configValidator{config: config}
	return validator.Validate()
}

type configValidator struct {
	config *PipelineConfig
	errs   []error
}

func (v *configValidator) Validate() error {
	v.validateApp()
	v.validateDataDir()
	v.validateConcurrency()
	v.validateBreaker()

	if len(v.errs) > 0 {
		return v.buildValidationError()
	}
	return nil
}

func (v *configValidator) addError(component, operation, message string) {
	v.errs = append(v.errs, errors.ConfigError(operation, message).WithMetadata("component", component))
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true, "panic": true,
}

func (v *configValidator) validateApp() {
	if !validLogLevels[v.config.App.LogLevel] {
		v.addError("app", "validate_log_level", fmt.Sprintf("invalid log level: %s", v.config.App.LogLevel))
	}
	if v.config.App.LogFormat != "json" && v.config.App.LogFormat != "text" {
		v.addError("app", "validate_log_format", fmt.Sprintf("invalid log format: %s", v.config.App.LogFormat))
	}
}

func (v *configValidator) validateDataDir() {
	if v.config.DataDir == "" {
		v.addError("data_dir", "validate_data_dir", "data directory cannot be empty")
	}
}

func (v *configValidator) validateConcurrency() {
	if v.config.MaxConcurrentSources <= 0 {
		v.addError("concurrency", "validate_max_concurrent_sources",
			fmt.Sprintf("max_concurrent_sources must be positive, got %d", v.config.MaxConcurrentSources))
	}
	if v.config.CycleInterval <= 0 {
		v.addError("concurrency", "validate_cycle_interval", "cycle_interval must be positive")
	}
}

func (v *configValidator) validateBreaker() {
	if v.config.Breaker.FailureThreshold <= 0 {
		v.addError("breaker", "validate_failure_threshold", "breaker failure_threshold must be positive")
	}
	if v.config.Breaker.Timeout <= 0 {
		v.addError("breaker", "validate_timeout", "breaker timeout must be positive")
	}
}

func (v *configValidator) buildValidationError() error {
	msg := fmt.Sprintf("%d configuration error(s)", len(v.errs))
	for _, e := range v.errs {
		msg += "; " + e.Error()
	}
	return errors.ConfigError("validate", msg)
}
