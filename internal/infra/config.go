package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Sensitive or deployment-specific
// values can be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Token struct {
		TotalSupply  int64    `yaml:"total_supply"`
		Treasury     string   `yaml:"treasury"`
		Controller   string   `yaml:"controller"`
		FeeCollector string   `yaml:"fee_collector"`
		MarketVenues []string `yaml:"market_venues"`
		Exempt       []string `yaml:"exempt"`
	} `yaml:"token"`

	Storage struct {
		DataDir      string `yaml:"data_dir"`
		SnapshotCron string `yaml:"snapshot_cron"`
		SnapshotKeep int    `yaml:"snapshot_keep"`
	} `yaml:"storage"`

	Inspect struct {
		Addr string `yaml:"addr"`
	} `yaml:"inspect"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("MEME_CONTROLLER"); v != "" {
		cfg.Token.Controller = v
	}
	if v := os.Getenv("MEME_TREASURY"); v != "" {
		cfg.Token.Treasury = v
	}
	if v := os.Getenv("MEME_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MEME_INSPECT_ADDR"); v != "" {
		cfg.Inspect.Addr = v
	}
	if v := os.Getenv("MEME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	if c.Token.TotalSupply <= 0 {
		return fmt.Errorf("token.total_supply must be positive, got %d", c.Token.TotalSupply)
	}
	if c.Token.Treasury == "" {
		return fmt.Errorf("token.treasury is required")
	}
	if c.Token.Controller == "" {
		return fmt.Errorf("token.controller is required")
	}
	if c.Token.FeeCollector == "" {
		return fmt.Errorf("token.fee_collector is required")
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SnapshotCron == "" {
		c.Storage.SnapshotCron = "0 */5 * * * *" // every 5 minutes
	}
	if c.Storage.SnapshotKeep <= 0 {
		c.Storage.SnapshotKeep = 5
	}
	return nil
}
