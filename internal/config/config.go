// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is unmarshaled from
// viper exactly once at startup; validation happens here rather than at the
// individual use sites.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Security   SecurityConfig   `mapstructure:"security" yaml:"security"`
	AutoFix    AutoFixConfig    `mapstructure:"autofix" yaml:"autofix"`
	Rollback   RollbackConfig   `mapstructure:"rollback" yaml:"rollback"`
	MemoryBank MemoryBankConfig `mapstructure:"memory_bank" yaml:"memory_bank"`

	// Scan gets its marching orders from CLI flags, not the config file.
	Scan ScanConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// EngineConfig tunes session-level concurrency.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
}

// SecurityConfig governs the sandboxed executor.
type SecurityConfig struct {
	AllowedCommands      []string               `mapstructure:"allowed_commands" yaml:"allowed_commands"`
	PathValidation       PathValidationConfig   `mapstructure:"path_validation" yaml:"path_validation"`
	CommandExecution     CommandExecutionConfig `mapstructure:"command_execution" yaml:"command_execution"`
	EnvironmentVariables EnvVarConfig           `mapstructure:"environment_variables" yaml:"environment_variables"`
}

// PathValidationConfig tunes the path sanitizer.
type PathValidationConfig struct {
	// MaxDecodeIterations bounds the URL-decode loop used to unmask
	// multiply-encoded traversal sequences.
	MaxDecodeIterations int `mapstructure:"max_decode_iterations" yaml:"max_decode_iterations"`
	// AllowedTempPrefix is the one absolute prefix command arguments may
	// reference outside the project root.
	AllowedTempPrefix string `mapstructure:"allowed_temp_prefix" yaml:"allowed_temp_prefix"`
}

// CommandExecutionConfig bounds sandboxed child processes.
type CommandExecutionConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	GracePeriod    time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	MaxOutputSize  int           `mapstructure:"max_output_size" yaml:"max_output_size"`
}

// EnvVarConfig controls which variables a child process inherits.
type EnvVarConfig struct {
	Allowed []string `mapstructure:"allowed" yaml:"allowed"`
	Blocked []string `mapstructure:"blocked" yaml:"blocked"`
}

// AutoFixConfig is the external enablement map for fix strategies.
type AutoFixConfig struct {
	EnabledStrategies   map[string]bool `mapstructure:"enabled_strategies" yaml:"enabled_strategies"`
	RequireManualReview map[string]bool `mapstructure:"require_manual_review" yaml:"require_manual_review"`
	MaxAutoFixesPerRun  int             `mapstructure:"max_auto_fixes_per_run" yaml:"max_auto_fixes_per_run"`
	CreateBackups       bool            `mapstructure:"create_backups" yaml:"create_backups"`
}

// RollbackConfig bounds the backup store.
type RollbackConfig struct {
	Enabled             bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir                 string `mapstructure:"dir" yaml:"dir"`
	MaxBackupFiles      int    `mapstructure:"max_backup_files" yaml:"max_backup_files"`
	BackupRetentionDays int    `mapstructure:"backup_retention_days" yaml:"backup_retention_days"`
}

// MemoryBankConfig points at the external record sink.
type MemoryBankConfig struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	UserID     string        `mapstructure:"user_id" yaml:"user_id"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// ScanConfig holds settings populated from CLI flags for a specific run.
type ScanConfig struct {
	Root        string
	Output      string
	Format      string
	Concurrency int
	Watch       bool
	DryRun      bool
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stitch")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.queue_size", 256)

	// -- Security --
	v.SetDefault("security.allowed_commands", []string{"node", "npx", "eslint", "prettier", "tsc"})
	v.SetDefault("security.path_validation.max_decode_iterations", 3)
	v.SetDefault("security.path_validation.allowed_temp_prefix", "/tmp")
	v.SetDefault("security.command_execution.default_timeout", 30*time.Second)
	v.SetDefault("security.command_execution.max_timeout", 2*time.Minute)
	v.SetDefault("security.command_execution.grace_period", 5*time.Second)
	v.SetDefault("security.command_execution.max_output_size", 1<<20)
	v.SetDefault("security.environment_variables.allowed", []string{"PATH", "HOME", "LANG", "TMPDIR", "NODE_ENV"})
	v.SetDefault("security.environment_variables.blocked", []string{"LD_PRELOAD", "LD_LIBRARY_PATH", "DYLD_INSERT_LIBRARIES", "NODE_OPTIONS"})

	// -- AutoFix --
	v.SetDefault("autofix.enabled_strategies", map[string]bool{})
	v.SetDefault("autofix.require_manual_review", map[string]bool{})
	v.SetDefault("autofix.max_auto_fixes_per_run", 50)
	v.SetDefault("autofix.create_backups", true)

	// -- Rollback --
	v.SetDefault("rollback.enabled", true)
	v.SetDefault("rollback.dir", ".stitch/backups")
	v.SetDefault("rollback.max_backup_files", 50)
	v.SetDefault("rollback.backup_retention_days", 7)

	// -- Memory bank --
	v.SetDefault("memory_bank.endpoint", "")
	v.SetDefault("memory_bank.user_id", "stitch")
	v.SetDefault("memory_bank.timeout", 10*time.Second)
	v.SetDefault("memory_bank.max_retries", 3)
}

// NewFromViper unmarshals and validates a configuration instance. Warnings
// cover missing optional fields; the error covers fatal ones.
func NewFromViper(v *viper.Viper) (*Config, []string, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, warnings, nil
}

// NewDefault returns a configuration populated purely from defaults. Used by
// tests and as the fallback when no config file is present.
func NewDefault() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _, err := NewFromViper(v)
	if err != nil {
		// Defaults must always validate.
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Validate checks required fields and sane values. Required-field violations
// are fatal; absent optional fields produce warnings only.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if len(c.Security.AllowedCommands) == 0 {
		return warnings, fmt.Errorf("security.allowed_commands must not be empty")
	}
	ce := c.Security.CommandExecution
	if ce.MaxTimeout <= 0 {
		return warnings, fmt.Errorf("security.command_execution.max_timeout must be positive")
	}
	if ce.DefaultTimeout <= 0 {
		return warnings, fmt.Errorf("security.command_execution.default_timeout must be positive")
	}
	if ce.DefaultTimeout > ce.MaxTimeout {
		return warnings, fmt.Errorf("security.command_execution.default_timeout (%s) exceeds max_timeout (%s)", ce.DefaultTimeout, ce.MaxTimeout)
	}
	// Zero WaitDelay disables the SIGKILL escalation entirely and a child
	// ignoring SIGTERM would hang the pipeline.
	if ce.GracePeriod <= 0 {
		return warnings, fmt.Errorf("security.command_execution.grace_period must be positive")
	}
	if c.Security.PathValidation.MaxDecodeIterations <= 0 {
		return warnings, fmt.Errorf("security.path_validation.max_decode_iterations must be positive")
	}
	if c.Engine.WorkerConcurrency <= 0 {
		return warnings, fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.AutoFix.MaxAutoFixesPerRun < 0 {
		return warnings, fmt.Errorf("autofix.max_auto_fixes_per_run must not be negative")
	}
	if c.Rollback.Enabled && c.Rollback.MaxBackupFiles <= 0 && c.Rollback.BackupRetentionDays <= 0 {
		return warnings, fmt.Errorf("rollback requires max_backup_files or backup_retention_days when enabled")
	}

	if len(c.AutoFix.EnabledStrategies) == 0 {
		warnings = append(warnings, "autofix.enabled_strategies is empty; all registered strategies stay enabled")
	}
	if c.MemoryBank.Endpoint == "" {
		warnings = append(warnings, "memory_bank.endpoint not set; session records will not be exported")
	}
	if c.MemoryBank.MaxRetries < 0 {
		return warnings, fmt.Errorf("memory_bank.max_retries must not be negative")
	}
	if !c.Rollback.Enabled {
		warnings = append(warnings, "rollback disabled; fixes will be applied without backups")
	}
	return warnings, nil
}
