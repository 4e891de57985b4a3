package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Risk percent bounds accepted per account.
var (
	minRiskPercent = decimal.RequireFromString("0.1")
	maxRiskPercent = decimal.NewFromInt(10)
)

// DefaultLeverageTiers is the tier ladder used when an account configures
// none.
var DefaultLeverageTiers = []int{1, 2, 3, 5, 10, 20}

const (
	defaultAPIServerPort         = 8090
	defaultAutoExecuteConfidence = 0.7
)

// AccountConfig holds one user's risk settings.
type AccountConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Capital               decimal.Decimal `json:"capital"`
	RiskPercent           decimal.Decimal `json:"risk_percent"`
	LeverageTiers         []int           `json:"leverage_tiers,omitempty"`
	DailyLossLimitPercent decimal.Decimal `json:"daily_loss_limit_percent"`
	ConsecutiveLossLimit  int             `json:"consecutive_loss_limit"`
	ProtectionEnabled     bool            `json:"protection_enabled"`

	// AutoExecuteConfidence routes signals at or above this confidence to
	// auto execution; lower ones wait for manual confirmation.
	AutoExecuteConfidence float64 `json:"auto_execute_confidence,omitempty"`

	// MinNotional configures the simulated venue in paper mode.
	MinNotional decimal.Decimal `json:"min_notional,omitempty"`
}

// Config is the process configuration.
type Config struct {
	Accounts      []AccountConfig `json:"accounts"`
	APIServerPort int             `json:"api_server_port"`
	DatabaseURL   string          `json:"database_url,omitempty"`
}

// ValidateRiskPercent checks the per-trade risk bounds. Startup config and
// runtime settings updates share the same window.
func ValidateRiskPercent(v decimal.Decimal) error {
	if v.LessThan(minRiskPercent) || v.GreaterThan(maxRiskPercent) {
		return fmt.Errorf("risk_percent %s outside [%s, %s]", v, minRiskPercent, maxRiskPercent)
	}
	return nil
}

// LoadConfig reads and validates the JSON config file, applying defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.APIServerPort == 0 {
		c.APIServerPort = defaultAPIServerPort
	}
	if c.DatabaseURL == "" {
		// Env fallback chain so secrets stay out of the config file.
		if v := os.Getenv("GUARDRAIL_DB_URL"); v != "" {
			c.DatabaseURL = v
		} else if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if len(a.LeverageTiers) == 0 {
			a.LeverageTiers = append([]int(nil), DefaultLeverageTiers...)
		}
		if a.AutoExecuteConfidence == 0 {
			a.AutoExecuteConfidence = defaultAutoExecuteConfidence
		}
	}
}

// Validate checks the config invariants.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	if c.APIServerPort <= 0 || c.APIServerPort > 65535 {
		return fmt.Errorf("api_server_port %d out of range", c.APIServerPort)
	}

	ids := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("account[%d]: id must not be empty", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("account[%d]: duplicate id %q", i, a.ID)
		}
		ids[a.ID] = true

		if !a.Capital.IsPositive() {
			return fmt.Errorf("account %s: capital must be positive", a.ID)
		}
		if err := ValidateRiskPercent(a.RiskPercent); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
		for j, tier := range a.LeverageTiers {
			if tier < 1 {
				return fmt.Errorf("account %s: leverage tier %d below 1", a.ID, tier)
			}
			if j > 0 && tier <= a.LeverageTiers[j-1] {
				return fmt.Errorf("account %s: leverage tiers must be strictly ascending", a.ID)
			}
		}
		if a.DailyLossLimitPercent.IsNegative() {
			return fmt.Errorf("account %s: daily_loss_limit_percent must not be negative", a.ID)
		}
		if a.ProtectionEnabled && a.ConsecutiveLossLimit < 1 {
			return fmt.Errorf("account %s: consecutive_loss_limit must be at least 1", a.ID)
		}
		if a.AutoExecuteConfidence < 0 || a.AutoExecuteConfidence > 1 {
			return fmt.Errorf("account %s: auto_execute_confidence %.3f outside [0,1]",
				a.ID, a.AutoExecuteConfidence)
		}
	}
	return nil
}
