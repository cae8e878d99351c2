package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const FileName = "taskbridge.yml"

// Config models taskbridge.yml.
type Config struct {
	Offers struct {
		TTLHours int `yaml:"ttl_hours" json:"ttl_hours"`
	} `yaml:"offers" json:"offers"`
	Replacement struct {
		SLAHours int `yaml:"sla_hours" json:"sla_hours"`
	} `yaml:"replacement" json:"replacement"`
	Matching struct {
		ScoreScale int `yaml:"score_scale" json:"score_scale"`
	} `yaml:"matching" json:"matching"`
	Sweeper struct {
		Schedule string `yaml:"schedule" json:"schedule"`
	} `yaml:"sweeper" json:"sweeper"`
	Payout        PayoutConfig `yaml:"payout" json:"payout"`
	Notifications struct {
		PollIntervalMS int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	} `yaml:"notifications" json:"notifications"`
	Locking struct {
		Backend    string `yaml:"backend" json:"backend"`
		TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
	} `yaml:"locking" json:"locking"`
	Server struct {
		CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	} `yaml:"server" json:"server"`
}

type PayoutConfig struct {
	WebhookURL     string `yaml:"webhook_url" json:"webhook_url"`
	Secret         string `yaml:"secret" json:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	Batch          int    `yaml:"batch" json:"batch"`
}

func (c *Config) OfferTTL() time.Duration {
	return time.Duration(c.Offers.TTLHours) * time.Hour
}

func (c *Config) ReplacementSLA() time.Duration {
	return time.Duration(c.Replacement.SLAHours) * time.Hour
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Locking.TTLSeconds) * time.Second
}

func (c *Config) NotificationPollInterval() time.Duration {
	return time.Duration(c.Notifications.PollIntervalMS) * time.Millisecond
}

// applyDefaults fills zero values so partial files stay valid.
func (c *Config) applyDefaults() {
	if c.Offers.TTLHours == 0 {
		c.Offers.TTLHours = 24
	}
	if c.Replacement.SLAHours == 0 {
		c.Replacement.SLAHours = 48
	}
	if c.Matching.ScoreScale == 0 {
		c.Matching.ScoreScale = 100
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "@every 1m"
	}
	if c.Payout.TimeoutSeconds == 0 {
		c.Payout.TimeoutSeconds = 5
	}
	if c.Payout.Batch == 0 {
		c.Payout.Batch = 50
	}
	if c.Notifications.PollIntervalMS == 0 {
		c.Notifications.PollIntervalMS = 1000
	}
	if c.Locking.Backend == "" {
		c.Locking.Backend = "local"
	}
	if c.Locking.TTLSeconds == 0 {
		c.Locking.TTLSeconds = 10
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Offers.TTLHours < 0 {
		return fmt.Errorf("config.offers.ttl_hours must be positive")
	}
	if c.Replacement.SLAHours < 0 {
		return fmt.Errorf("config.replacement.sla_hours must be positive")
	}
	if c.Matching.ScoreScale < 0 {
		return fmt.Errorf("config.matching.score_scale must be positive")
	}
	if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
		return fmt.Errorf("config.sweeper.schedule: %w", err)
	}
	if c.Payout.WebhookURL != "" && !strings.HasPrefix(c.Payout.WebhookURL, "http://") && !strings.HasPrefix(c.Payout.WebhookURL, "https://") {
		return fmt.Errorf("config.payout.webhook_url must be an http(s) url")
	}
	if c.Payout.TimeoutSeconds < 0 || c.Payout.Batch < 0 {
		return fmt.Errorf("config.payout timeout and batch must be positive")
	}
	switch c.Locking.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("config.locking.backend must be 'local' or 'redis'")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.applyDefaults()
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTemplate = `offers:
  ttl_hours: 24

replacement:
  sla_hours: 48

matching:
  score_scale: 100

sweeper:
  schedule: "@every 1m"

payout:
  webhook_url: ""
  secret: ""
  timeout_seconds: 5
  batch: 50

notifications:
  poll_interval_ms: 1000

locking:
  backend: local
  ttl_seconds: 10

server:
  cors_origins: ["*"]
`
