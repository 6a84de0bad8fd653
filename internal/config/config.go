// Package config loads and validates the engine configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid duration %q", raw)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" jsonschema:"title=Listen Address,description=host:port the HTTP API binds to" validate:"required"`
}

// BrokerConfig selects and authenticates the brokerage session.
type BrokerConfig struct {
	Provider  string `yaml:"provider" json:"provider" jsonschema:"title=Broker Provider,enum=paper,enum=binance-paper,enum=binance-live" validate:"required,oneof=paper binance-paper binance-live"`
	APIKey    string `yaml:"api_key" json:"apiKey" jsonschema:"title=API Key"`
	SecretKey string `yaml:"secret_key" json:"secretKey" jsonschema:"title=Secret Key"`
}

// MarketDataConfig selects the candle provider.
type MarketDataConfig struct {
	Provider string `yaml:"provider" json:"provider" jsonschema:"title=Market Data Provider,enum=binance,enum=polygon" validate:"required,oneof=binance polygon"`
	APIKey   string `yaml:"api_key" json:"apiKey" jsonschema:"title=API Key,description=Required for polygon"`
	Interval string `yaml:"interval" json:"interval" jsonschema:"title=Candle Interval,enum=1m,enum=1h,enum=1d"`
}

// LedgerConfig locates the DuckDB ledger and the instrument master.
type LedgerConfig struct {
	Path           string `yaml:"path" json:"path" jsonschema:"title=Database Path" validate:"required"`
	InstrumentsCSV string `yaml:"instruments_csv" json:"instrumentsCsv" jsonschema:"title=Instruments CSV,description=Seeded into the instruments table at startup"`
}

// StrategiesConfig locates the strategy content store.
type StrategiesConfig struct {
	Dir string `yaml:"dir" json:"dir" jsonschema:"title=Strategy Directory" validate:"required"`
}

// BotConfig tunes the per-bot evaluation loop.
type BotConfig struct {
	PollInterval Duration `yaml:"poll_interval" json:"pollInterval" jsonschema:"title=Poll Interval"`
	LookbackDays int      `yaml:"lookback_days" json:"lookbackDays" jsonschema:"title=Lookback Days" validate:"gte=0"`
	LotSize      int      `yaml:"lot_size" json:"lotSize" jsonschema:"title=Lot Size" validate:"gte=0"`
	StopTimeout  Duration `yaml:"stop_timeout" json:"stopTimeout" jsonschema:"title=Stop Timeout,description=Zero waits indefinitely"`
}

// EventLogConfig bounds the in-memory event log.
type EventLogConfig struct {
	Capacity int `yaml:"capacity" json:"capacity" jsonschema:"title=Capacity" validate:"gte=0"`
}

// Config is the full engine configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Broker     BrokerConfig     `yaml:"broker" json:"broker"`
	MarketData MarketDataConfig `yaml:"market_data" json:"marketData"`
	Ledger     LedgerConfig     `yaml:"ledger" json:"ledger"`
	Strategies StrategiesConfig `yaml:"strategies" json:"strategies"`
	Bot        BotConfig        `yaml:"bot" json:"bot"`
	EventLog   EventLogConfig   `yaml:"event_log" json:"eventLog"`
}

// Default returns the configuration used when a field is left unset.
func Default() Config {
	return Config{
		Server:     ServerConfig{Addr: ":8080"},
		Broker:     BrokerConfig{Provider: "paper"},
		MarketData: MarketDataConfig{Provider: "binance", Interval: "1d"},
		Ledger:     LedgerConfig{Path: "helmsman.db"},
		Strategies: StrategiesConfig{Dir: "strategies"},
		Bot: BotConfig{
			PollInterval: Duration(10 * time.Second),
			LookbackDays: 60,
			LotSize:      50,
		},
		EventLog: EventLogConfig{Capacity: 50},
	}
}

// Load reads the YAML file at path on top of the defaults, applies secret
// overrides from the environment and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("HELMSMAN_BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}

	if v := os.Getenv("HELMSMAN_BROKER_SECRET_KEY"); v != "" {
		c.Broker.SecretKey = v
	}

	if v := os.Getenv("HELMSMAN_MARKET_DATA_API_KEY"); v != "" {
		c.MarketData.APIKey = v
	}
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}
