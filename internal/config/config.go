package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Interval returns the backup period, defaulting to daily.
func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

type Config struct {
	Server struct {
		Port               int      `yaml:"port"`
		APIKeys            []string `yaml:"api_keys"`
		RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
		RateBurst          int      `yaml:"rate_burst"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Enabled        bool   `yaml:"enabled"`
		Address        string `yaml:"address"`
		Password       string `yaml:"password"`
		DB             int    `yaml:"db"`
		FeedTTLSeconds int    `yaml:"feed_ttl_seconds"`
	} `yaml:"redis"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Scheduling struct {
		MinAdvanceMinutes int `yaml:"min_advance_minutes"`
		MaxAdvanceDays    int `yaml:"max_advance_days"`
		DayStartHour      int `yaml:"day_start_hour"`
		DayEndHour        int `yaml:"day_end_hour"`
		SlotMinutes       int `yaml:"slot_minutes"`
	} `yaml:"scheduling"`

	Notify struct {
		CheckIntervalMinutes int     `yaml:"check_interval_minutes"`
		MaxConcurrent        int     `yaml:"max_concurrent"`
		MessagesPerSecond    float64 `yaml:"messages_per_second"`
		Burst                int     `yaml:"burst"`
	} `yaml:"notify"`

	Audit struct {
		Enabled           bool    `yaml:"enabled"`
		DataRetentionDays int     `yaml:"data_retention_days"`
		ExportOnStart     bool    `yaml:"export_on_start"`
		ReportChatIDs     []int64 `yaml:"report_chat_ids"`
	} `yaml:"audit"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsPath string `yaml:"credentials_path"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
	} `yaml:"sheets"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/teamplan.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ServerPort() int {
	if c.Server.Port <= 0 {
		return 8080
	}
	return c.Server.Port
}

func (c *Config) MinAdvance() time.Duration {
	if c.Scheduling.MinAdvanceMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Scheduling.MinAdvanceMinutes) * time.Minute
}

func (c *Config) MaxAdvance() time.Duration {
	if c.Scheduling.MaxAdvanceDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.Scheduling.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) DayWindow() (startHour, endHour int) {
	startHour, endHour = c.Scheduling.DayStartHour, c.Scheduling.DayEndHour
	if startHour <= 0 {
		startHour = 8
	}
	if endHour <= startHour {
		endHour = 20
	}
	return startHour, endHour
}

func (c *Config) SlotSize() time.Duration {
	if c.Scheduling.SlotMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Scheduling.SlotMinutes) * time.Minute
}

func (c *Config) FeedTTL() time.Duration {
	if c.Redis.FeedTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Redis.FeedTTLSeconds) * time.Second
}

func (c *Config) NotifyInterval() time.Duration {
	if c.Notify.CheckIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.Notify.CheckIntervalMinutes) * time.Minute
}
