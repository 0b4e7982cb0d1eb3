// Package config holds the yaml-backed run configuration shared by the
// engine, the broker, and the strategies.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/backsim/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default account parameters applied by DefaultConfig.
const (
	DefaultInitialCash         = 100000.0
	DefaultLeverage            = 100.0
	DefaultCommissionRate      = 0.06
	DefaultAnnualizationFactor = 365 * 24
)

// StrategyConfig carries the per-strategy tuning knobs. Strategies read only
// the keys they care about.
type StrategyConfig struct {
	Name          string  `yaml:"name" json:"name" jsonschema:"title=Strategy Name,description=Registered name of the strategy to run"`
	EntryBar      int     `yaml:"entry_bar" json:"entry_bar" jsonschema:"title=Entry Bar,description=Bar index on which the benchmark strategy buys,minimum=0"`
	ExitBar       int     `yaml:"exit_bar" json:"exit_bar" jsonschema:"title=Exit Bar,description=Bar index on which the benchmark strategy sells,minimum=0"`
	FastPeriod    int     `yaml:"fast_period" json:"fast_period" jsonschema:"title=Fast Period,description=Fast SMA period for the crossover strategy,minimum=1"`
	SlowPeriod    int     `yaml:"slow_period" json:"slow_period" jsonschema:"title=Slow Period,description=Slow SMA period for the crossover strategy,minimum=1"`
	OrderSize     float64 `yaml:"order_size" json:"order_size" jsonschema:"title=Order Size,description=Size of each order placed by the strategy,minimum=0"`
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct" jsonschema:"title=Take Profit Percent,description=Optional take-profit distance from entry in percent,minimum=0"`
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" jsonschema:"title=Stop Loss Percent,description=Optional stop-loss distance from entry in percent,minimum=0"`
}

// Config is the complete run configuration.
type Config struct {
	InitialCash         float64                    `yaml:"initial_cash" json:"initial_cash" jsonschema:"title=Initial Cash,description=Starting account cash in USD,minimum=0" validate:"gt=0"`
	Leverage            float64                    `yaml:"leverage" json:"leverage" jsonschema:"title=Leverage,description=Account leverage; values at or below zero mean unleveraged" validate:"gte=0"`
	CommissionRate      float64                    `yaml:"commission_rate" json:"commission_rate" jsonschema:"title=Commission Rate,description=Commission as a percentage of traded notional,minimum=0" validate:"gte=0"`
	AnnualizationFactor float64                    `yaml:"annualization_factor" json:"annualization_factor" jsonschema:"title=Annualization Factor,description=Bars per year used to annualize the Sharpe ratio,minimum=0" validate:"gte=0"`
	StartTime           optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the backtest period"`
	EndTime             optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the backtest period"`
	Strategy            StrategyConfig             `yaml:"strategy" json:"strategy" jsonschema:"title=Strategy,description=Strategy selection and tuning"`
}

// DefaultConfig returns a Config with the account defaults and no strategy
// selected.
func DefaultConfig() Config {
	return Config{
		InitialCash:         DefaultInitialCash,
		Leverage:            DefaultLeverage,
		CommissionRate:      DefaultCommissionRate,
		AnnualizationFactor: DefaultAnnualizationFactor,
		StartTime:           optional.None[time.Time](),
		EndTime:             optional.None[time.Time](),
	}
}

// UnmarshalYAML implements custom unmarshaling for Config so that the
// optional time fields accept plain timestamps, and absent account fields
// keep their defaults.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		InitialCash         *float64       `yaml:"initial_cash"`
		Leverage            *float64       `yaml:"leverage"`
		CommissionRate      *float64       `yaml:"commission_rate"`
		AnnualizationFactor *float64       `yaml:"annualization_factor"`
		StartTime           *time.Time     `yaml:"start_time"`
		EndTime             *time.Time     `yaml:"end_time"`
		Strategy            StrategyConfig `yaml:"strategy"`
	}

	raw := rawConfig{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	defaults := DefaultConfig()
	*c = defaults

	if raw.InitialCash != nil {
		c.InitialCash = *raw.InitialCash
	}
	if raw.Leverage != nil {
		c.Leverage = *raw.Leverage
	}
	if raw.CommissionRate != nil {
		c.CommissionRate = *raw.CommissionRate
	}
	if raw.AnnualizationFactor != nil {
		c.AnnualizationFactor = *raw.AnnualizationFactor
	}
	if raw.StartTime != nil {
		c.StartTime = optional.Some(*raw.StartTime)
	}
	if raw.EndTime != nil {
		c.EndTime = optional.Some(*raw.EndTime)
	}

	c.Strategy = raw.Strategy

	return nil
}

// Parse decodes a yaml document into a Config and validates it.
func Parse(data []byte) (Config, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config yaml", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// LoadFile reads and parses a yaml config file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	return Parse(data)
}

// Validate checks field constraints and the start/end ordering.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() {
		if !c.StartTime.Unwrap().Before(c.EndTime.Unwrap()) {
			return errors.New(errors.ErrCodeInvalidConfiguration, "start_time must be before end_time")
		}
	}

	return nil
}

// GenerateSchema generates a JSON schema for the Config.
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backsim-config"
	schema.Description = "Configuration schema for a backsim run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates an indented JSON schema string for the Config.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to marshal config schema", err)
	}

	return string(schemaBytes), nil
}
