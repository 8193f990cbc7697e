package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "200ms" or "5s" decode
// directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	ChangeLog ChangeLogConfig `yaml:"changelog"`
	Entities  EntitiesConfig  `yaml:"entities"`
	Server    ServerConfig    `yaml:"server"`
	NATS      NATSConfig      `yaml:"nats"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type MySQLConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	Database     string   `yaml:"database"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// DSN builds the driver connection string. parseTime is required so
// occurred_at scans into time.Time.
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Database)
}

type ChangeLogConfig struct {
	Table        string   `yaml:"table"`
	PollInterval Duration `yaml:"poll_interval"`
	BatchSize    int      `yaml:"batch_size"`
}

type EntitiesConfig struct {
	Table string `yaml:"table"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	WSPath       string   `yaml:"ws_path"`
	SendBuffer   int      `yaml:"send_buffer"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type NATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Subject       string   `yaml:"subject"`
	MaxReconnect  int      `yaml:"max_reconnect"`
	ReconnectWait Duration `yaml:"reconnect_wait"`
}

type RetentionConfig struct {
	Keep             int     `yaml:"keep"`
	SweepProbability float64 `yaml:"sweep_probability"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.MySQL.Port == 0 {
		config.MySQL.Port = 3306
	}
	if config.MySQL.QueryTimeout == 0 {
		config.MySQL.QueryTimeout = Duration(5 * time.Second)
	}
	if config.ChangeLog.Table == "" {
		config.ChangeLog.Table = "change_log"
	}
	if config.ChangeLog.PollInterval == 0 {
		config.ChangeLog.PollInterval = Duration(200 * time.Millisecond)
	}
	if config.ChangeLog.BatchSize == 0 {
		config.ChangeLog.BatchSize = 50
	}
	if config.Entities.Table == "" {
		config.Entities.Table = "tasks"
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.WSPath == "" {
		config.Server.WSPath = "/ws"
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = Duration(10 * time.Second)
	}
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = Duration(2 * time.Second)
	}
	if config.Retention.Keep == 0 {
		config.Retention.Keep = 1000
	}
	if config.Retention.SweepProbability == 0 {
		config.Retention.SweepProbability = 0.1
	}

	return &config, nil
}
