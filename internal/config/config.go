// Package config собирает настройки процессов schedq.
//
// Порядок источников: значения по умолчанию, затем YAML файл из
// SCHEDQ_CONFIG (если задан), затем переменные окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/schedq/internal/repo"
	"go.yaml.in/yaml/v3"
)

// Duration time.Duration, который в YAML пишется как "40s" или "2m".
type Duration time.Duration

// UnmarshalYAML принимает строку в формате time.ParseDuration
// или целое число секунд.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML пишет длительность строкой.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std возвращает значение как time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Topology вариант развёртывания, определяющий пресет пула.
type Topology string

const (
	TopologySingle Topology = "single"
	TopologyMulti  Topology = "multi"
)

// DatabaseConfig настройки PostgreSQL.
type DatabaseConfig struct {
	URL      string   `yaml:"url"`
	Topology Topology `yaml:"topology"`

	// Нулевые значения означают "взять из пресета топологии".
	MaxConns         int32    `yaml:"max_conns"`
	MinConns         int32    `yaml:"min_conns"`
	AcquireTimeout   Duration `yaml:"acquire_timeout"`
	LockTimeout      Duration `yaml:"lock_timeout"`
	StatementTimeout Duration `yaml:"statement_timeout"`
}

// PollerConfig настройки цикла опроса.
type PollerConfig struct {
	Interval  Duration `yaml:"interval"`
	BatchSize int      `yaml:"batch_size"`
	LockMode  string   `yaml:"lock_mode"`
}

// AMQPConfig настройки RabbitMQ. Пустой URL отключает публикацию.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

// WorkerConfig настройки schedq-worker.
type WorkerConfig struct {
	// RatePerSec ограничивает вызовы executors в секунду, 0 без лимита.
	RatePerSec  int `yaml:"rate_per_sec"`
	MaxAttempts int `yaml:"max_attempts"`
}

// HTTPConfig порты HTTP серверов.
type HTTPConfig struct {
	APIPort     string `yaml:"api_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// Config полная конфигурация.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Poller   PollerConfig   `yaml:"poller"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Worker   WorkerConfig   `yaml:"worker"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// Default возвращает конфигурацию для локальной разработки.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			URL:      repo.DefaultDSN,
			Topology: TopologySingle,
		},
		Poller: PollerConfig{
			Interval:  Duration(time.Second),
			BatchSize: 100,
			LockMode:  repo.LockSkip.String(),
		},
		AMQP: AMQPConfig{
			Prefetch: 10,
		},
		Worker: WorkerConfig{
			MaxAttempts: 3,
		},
		HTTP: HTTPConfig{
			APIPort:     "8080",
			MetricsPort: "8081",
		},
	}
}

// Load читает конфигурацию из SCHEDQ_CONFIG и окружения.
func Load() (Config, error) {
	return load(os.Getenv("SCHEDQ_CONFIG"), os.LookupEnv)
}

// LoadFile читает конфигурацию из path и окружения.
func LoadFile(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("DB_URL", &cfg.Database.URL)
	if v, ok := lookup("DB_TOPOLOGY"); ok && v != "" {
		cfg.Database.Topology = Topology(strings.ToLower(v))
	}
	maxConns := int(cfg.Database.MaxConns)
	num("DB_MAX_CONNS", &maxConns)
	cfg.Database.MaxConns = int32(maxConns)
	dur("DB_ACQUIRE_TIMEOUT", &cfg.Database.AcquireTimeout)
	dur("DB_LOCK_TIMEOUT", &cfg.Database.LockTimeout)
	dur("DB_STATEMENT_TIMEOUT", &cfg.Database.StatementTimeout)

	dur("POLL_INTERVAL", &cfg.Poller.Interval)
	num("POLL_BATCH_SIZE", &cfg.Poller.BatchSize)
	str("POLL_LOCK_MODE", &cfg.Poller.LockMode)

	str("AMQP_URL", &cfg.AMQP.URL)
	num("AMQP_PREFETCH", &cfg.AMQP.Prefetch)

	num("WORKER_RATE_LIMIT", &cfg.Worker.RatePerSec)
	num("WORKER_MAX_ATTEMPTS", &cfg.Worker.MaxAttempts)

	str("API_PORT", &cfg.HTTP.APIPort)
	str("METRICS_PORT", &cfg.HTTP.MetricsPort)

	return errors.Join(errs...)
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Topology {
	case TopologySingle, TopologyMulti:
	default:
		errs = append(errs, fmt.Errorf("database.topology: unknown value %q (want single or multi)", c.Database.Topology))
	}
	if c.Database.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_conns: must not be negative"))
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poller.interval: must be positive"))
	}
	if c.Poller.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("poller.batch_size: must be positive"))
	}
	if c.Worker.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("worker.rate_per_sec: must not be negative"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("worker.max_attempts: must be at least 1"))
	}
	if _, err := repo.ParseLockMode(c.Poller.LockMode); err != nil {
		errs = append(errs, fmt.Errorf("poller.lock_mode: %w", err))
	}

	return errors.Join(errs...)
}

// PoolConfig возвращает пресет топологии с применёнными переопределениями.
func (c DatabaseConfig) PoolConfig() repo.PoolConfig {
	var pc repo.PoolConfig
	if c.Topology == TopologyMulti {
		pc = repo.MultipleGateways(c.URL)
	} else {
		pc = repo.SingleGateway(c.URL)
	}

	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if c.AcquireTimeout > 0 {
		pc.AcquireTimeout = c.AcquireTimeout.Std()
	}
	if c.LockTimeout > 0 {
		pc.LockTimeout = c.LockTimeout.Std()
	}
	if c.StatementTimeout > 0 {
		pc.StatementTimeout = c.StatementTimeout.Std()
	}
	if pc.MinConns > pc.MaxConns {
		pc.MinConns = pc.MaxConns
	}
	return pc
}

// LockModeValue возвращает разобранный режим блокировки poller.
func (c PollerConfig) LockModeValue() repo.LockMode {
	m, _ := repo.ParseLockMode(c.LockMode)
	return m
}

// parseDuration принимает "90s", "2m" или "90" (секунды).
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
