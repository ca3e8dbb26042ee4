package config

import (
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type Config struct {
	Environment string `koanf:"environment" default:"production"`

	DatabaseFilePath          string        `koanf:"database_file_path"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`

	ServerHost string `koanf:"server_host" default:"127.0.0.1"`
	ServerPort int    `koanf:"server_port" default:"6590"`

	// Task execution. Backend is either "queue" (in-process, strictly
	// sequential) or "pool" (broker-backed worker pool).
	TaskRunnerBackend  string        `koanf:"task_runner_backend" default:"queue"`
	WorkerProcesses    int           `koanf:"worker_processes" default:"2"`
	TaskPollInterval   time.Duration `koanf:"task_poll_interval" default:"5s"`
	TaskMaxAttempts    int           `koanf:"task_max_attempts" default:"3"`
	TaskTimeout        time.Duration `koanf:"task_timeout" default:"2h"`
	SchedulerTickEvery time.Duration `koanf:"scheduler_tick_every" default:"1m"`

	// External metadata provider.
	ProviderBaseURL       string        `koanf:"provider_base_url" default:"https://openlibrary.org"`
	ProviderRetryAttempts uint          `koanf:"provider_retry_attempts" default:"3"`
	ProviderTimeout       time.Duration `koanf:"provider_timeout" default:"30s"`

	// Scan pipeline tunables.
	AuthorScanLimit     int      `koanf:"author_scan_limit"`     // 0 means unlimited
	StaleDataMaxAgeDays *float64 `koanf:"stale_data_max_age_days"`
	RefreshIntervalDays *float64 `koanf:"refresh_interval_days"`
	MinMatchConfidence  float64  `koanf:"min_match_confidence" default:"0.75"`
	MaxWorksPerAuthor   int      `koanf:"max_works_per_author" default:"100"`
	MaxSubjectsPerWork  int      `koanf:"max_subjects_per_work" default:"10"`

	// Deduplication and similarity scoring.
	DuplicateSimilarityThreshold float64 `koanf:"duplicate_similarity_threshold" default:"0.85"`
	MinSimilarityScore           float64 `koanf:"min_similarity_score" default:"0.3"`

	UserConfigFilePath string      `koanf:"user_config_file_path"`
	UserConfig         *UserConfig `koanf:"-"`

	Hostname string `koanf:"-"`
}

const configFileENV = "CONFIG_FILE"

func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	// Optional YAML config file; env vars take precedence over it.
	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = "/config/config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "load config file")
		}
	}

	err := k.Load(env.Provider("", ".", func(key string) string {
		return strings.ToLower(key)
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "load env config")
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if cfg.DatabaseFilePath == "" {
		return nil, errors.New("missing required config: DATABASE_FILE_PATH (database_file_path)")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Hostname = hostname

	if cfg.UserConfigFilePath == "" {
		cfg.UserConfigFilePath = userConfigFilePath()
	}
	cfg.UserConfig, err = loadUserConfig(cfg.UserConfigFilePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return cfg, nil
}
