// config.go - Daemon configuration
package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
	"github.com/gitteri/confidential-balances-exploration/internal/transfer"
)

// Config is the daemon configuration.
type Config struct {
	Ledger       LedgerConfig       `yaml:"ledger"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Throttle     ThrottleConfig     `yaml:"throttle"`
	Decoder      DecoderConfig      `yaml:"decoder"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
	Demo         DemoConfig         `yaml:"demo"`
}

// LedgerConfig locates the ledger store and tunes the ledger.
type LedgerConfig struct {
	StorePath string `yaml:"store_path"`
	InMemory  bool   `yaml:"in_memory"`

	settlement.LedgerConfig `yaml:",inline"`
}

// OrchestratorConfig tunes client-side transfers.
type OrchestratorConfig struct {
	ProgressPath string `yaml:"progress_path"`
	InMemory     bool   `yaml:"in_memory"`

	transfer.Config `yaml:",inline"`
}

// ThrottleConfig is the per-authority token bucket in front of the ledger.
type ThrottleConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxTokens    int           `yaml:"max_tokens"`
	RefillRate   int           `yaml:"refill_rate"`
	RefillPeriod time.Duration `yaml:"refill_period"`
	// Authorities bounds the buckets kept in memory.
	Authorities int `yaml:"authorities"`
}

// DecoderConfig sizes the discrete log search used to decrypt pending
// balances.
type DecoderConfig struct {
	WindowBits uint `yaml:"window_bits"`
	Workers    int  `yaml:"workers"`
}

// LoggingConfig selects level, format and sinks.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file"`
	AuditFile string `yaml:"audit_file"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	MetricsPath     string        `yaml:"metrics_path"`
	HealthPath      string        `yaml:"health_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DemoConfig drives the demo subcommand. Amounts are in base units.
type DemoConfig struct {
	Remote   string `yaml:"remote"`
	Decimals uint8  `yaml:"decimals"`
	Mint     uint64 `yaml:"mint"`
	Deposit  uint64 `yaml:"deposit"`
	Transfer uint64 `yaml:"transfer"`
	Withdraw uint64 `yaml:"withdraw"`
	Auditor  bool   `yaml:"auditor"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			StorePath:    "data/ledger",
			LedgerConfig: settlement.DefaultLedgerConfig(),
		},
		Orchestrator: OrchestratorConfig{
			ProgressPath: "data/transfers",
			Config:       transfer.DefaultConfig(),
		},
		Throttle: ThrottleConfig{
			Enabled:      true,
			MaxTokens:    64,
			RefillRate:   16,
			RefillPeriod: time.Second,
			Authorities:  4096,
		},
		Decoder: DecoderConfig{WindowBits: encryption.DefaultWindowBits, Workers: 4},
		Logging: LoggingConfig{Level: "info", Format: "console", AuditFile: "audit.log"},
		Server: ServerConfig{
			Listen:          ":8899",
			MetricsPath:     "/metrics",
			HealthPath:      "/healthz",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Demo: DemoConfig{Decimals: 2, Mint: 100000, Deposit: 100000, Transfer: 30000, Withdraw: 5000, Auditor: true},
	}
}

// LoadConfig reads configPath, writing the defaults there first if it does
// not exist.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, errors.Wrap(err, "save default config")
		}
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}
	return config, nil
}

// SaveConfig writes config to configPath.
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(os.WriteFile(configPath, data, 0o644), "write config file")
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case !c.Ledger.InMemory && c.Ledger.StorePath == "":
		return errors.New("ledger.store_path is required unless ledger.in_memory is set")
	case c.Ledger.MaxFreshnessAge == 0:
		return errors.New("ledger.max_freshness_age must be positive")
	case c.Ledger.MaxInlinePayload <= 0:
		return errors.New("ledger.max_inline_payload must be positive")
	case c.Orchestrator.RetryAttempts <= 0:
		return errors.New("orchestrator.retry_attempts must be positive")
	case c.Throttle.Enabled && (c.Throttle.MaxTokens <= 0 || c.Throttle.RefillRate <= 0 || c.Throttle.RefillPeriod <= 0):
		return errors.New("throttle needs positive max_tokens, refill_rate and refill_period")
	case c.Decoder.WindowBits < 32 || c.Decoder.WindowBits > encryption.MaxWindowBits:
		return errors.Errorf("decoder.window_bits must be between 32 and %d", encryption.MaxWindowBits)
	case c.Server.Listen == "":
		return errors.New("server.listen is required")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	return nil
}
