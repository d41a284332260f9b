// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the GDS service configuration.
//
// Values come from, in increasing priority: defaults set in code, a YAML
// file, and GDS_* environment variables. Nested keys map to environment
// names by upper-casing and replacing dots with underscores, so
// server.addr is GDS_SERVER_ADDR.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianGDS/pkg/logging"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/telemetry"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "GDS"

// ErrInvalidConfig is returned when loading or validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Termination TerminationConfig `mapstructure:"termination"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	History     history.Config    `mapstructure:"history"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
	Logging     logging.Config    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr" validate:"required"`

	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// MaxSyncWait bounds how long a synchronous job request waits.
	MaxSyncWait time.Duration `mapstructure:"max_sync_wait" validate:"gt=0"`
}

// ExecutorConfig sizes the shared executor.
type ExecutorConfig struct {
	// Concurrency is the worker bound. Zero uses GOMAXPROCS.
	Concurrency int `mapstructure:"concurrency" validate:"gte=0,lte=1024"`
}

// ProgressConfig controls progress logging and streaming.
type ProgressConfig struct {
	// LogInterval is the minimum spacing of progress log lines.
	LogInterval time.Duration `mapstructure:"log_interval" validate:"gt=0"`

	// StreamInterval is the minimum spacing of streamed snapshots.
	StreamInterval time.Duration `mapstructure:"stream_interval" validate:"gt=0"`
}

// TerminationConfig controls job deadlines and stall detection.
type TerminationConfig struct {
	// DefaultTimeout is the job deadline when a request sets none. Zero
	// disables it.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"`

	// StallCheckInterval is how often stall detection runs. Zero disables it.
	StallCheckInterval time.Duration `mapstructure:"stall_check_interval" validate:"gte=0"`

	// ProgressInterval is how often a job is expected to report progress.
	ProgressInterval time.Duration `mapstructure:"progress_interval" validate:"gte=0"`

	// StallMultiplier is how many missed intervals count as a stall.
	StallMultiplier int `mapstructure:"stall_multiplier" validate:"gte=1"`
}

// CatalogConfig configures the graph catalog.
type CatalogConfig struct {
	// MaxEntries caps the number of graphs. Zero is unlimited.
	MaxEntries int `mapstructure:"max_entries" validate:"gte=0"`

	// ErrorCacheTTL is how long failed builds are cached.
	ErrorCacheTTL time.Duration `mapstructure:"error_cache_ttl" validate:"gt=0"`

	// Debounce is the quiet period before a watched graph reloads.
	Debounce time.Duration `mapstructure:"debounce" validate:"gt=0"`

	// GCSCredentialsFile enables gs:// sources. Empty uses application
	// default credentials when a gs:// source is first used.
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`

	// Graphs are loaded at startup.
	Graphs []GraphConfig `mapstructure:"graphs" validate:"dive"`
}

// GraphConfig is a manifest-backed graph loaded at startup.
type GraphConfig struct {
	// Manifest is the path of the graph manifest.
	Manifest string `mapstructure:"manifest" validate:"required"`

	// Watch reloads the graph when the manifest or its sources change.
	Watch bool `mapstructure:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	hist := history.DefaultConfig()
	hist.Path = "data/history"
	return Config{
		Server: ServerConfig{
			Addr:            ":8090",
			Mode:            "release",
			ShutdownTimeout: 15 * time.Second,
			MaxSyncWait:     5 * time.Minute,
		},
		Progress: ProgressConfig{
			LogInterval:    5 * time.Second,
			StreamInterval: 250 * time.Millisecond,
		},
		Termination: TerminationConfig{
			StallCheckInterval: 10 * time.Second,
			ProgressInterval:   time.Minute,
			StallMultiplier:    3,
		},
		Catalog: CatalogConfig{
			ErrorCacheTTL: 5 * time.Second,
			Debounce:      250 * time.Millisecond,
		},
		History:   hist,
		Telemetry: telemetry.DefaultConfig(),
		Logging: logging.Config{
			Level:   "info",
			Format:  logging.FormatAuto,
			Service: "gds",
		},
	}
}

// Load reads the configuration.
//
// Inputs:
//
//	path - YAML file. Empty skips the file and uses defaults plus
//	       environment overrides.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Wraps ErrInvalidConfig for unreadable or invalid input.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of the whole tree.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.History.InMemory && c.History.Path == "" {
		return fmt.Errorf("%w: history.path is required unless history.in_memory is set", ErrInvalidConfig)
	}
	return nil
}

// setDefaults registers every leaf key so environment overrides apply
// even when the file omits the key.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"server.addr":             d.Server.Addr,
		"server.mode":             d.Server.Mode,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,
		"server.max_sync_wait":    d.Server.MaxSyncWait,

		"executor.concurrency": d.Executor.Concurrency,

		"progress.log_interval":    d.Progress.LogInterval,
		"progress.stream_interval": d.Progress.StreamInterval,

		"termination.default_timeout":      d.Termination.DefaultTimeout,
		"termination.stall_check_interval": d.Termination.StallCheckInterval,
		"termination.progress_interval":    d.Termination.ProgressInterval,
		"termination.stall_multiplier":     d.Termination.StallMultiplier,

		"catalog.max_entries":          d.Catalog.MaxEntries,
		"catalog.error_cache_ttl":      d.Catalog.ErrorCacheTTL,
		"catalog.debounce":             d.Catalog.Debounce,
		"catalog.gcs_credentials_file": d.Catalog.GCSCredentialsFile,

		"history.path":             d.History.Path,
		"history.in_memory":        d.History.InMemory,
		"history.sync_writes":      d.History.SyncWrites,
		"history.max_records":      d.History.MaxRecords,
		"history.gc_interval":      d.History.GCInterval,
		"history.gc_discard_ratio": d.History.GCDiscardRatio,

		"telemetry.service_name":    d.Telemetry.ServiceName,
		"telemetry.service_version": d.Telemetry.ServiceVersion,
		"telemetry.environment":     d.Telemetry.Environment,
		"telemetry.trace_exporter":  d.Telemetry.TraceExporter,
		"telemetry.metric_exporter": d.Telemetry.MetricExporter,
		"telemetry.otlp_endpoint":   d.Telemetry.OTLPEndpoint,
		"telemetry.otlp_insecure":   d.Telemetry.OTLPInsecure,
		"telemetry.sample_ratio":    d.Telemetry.SampleRatio,

		"logging.level":   d.Logging.Level,
		"logging.format":  d.Logging.Format,
		"logging.dir":     d.Logging.Dir,
		"logging.service": d.Logging.Service,
		"logging.quiet":   d.Logging.Quiet,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
