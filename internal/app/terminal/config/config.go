package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const (
	defaultEnv                  = EnvLocal
	defaultCloudAddress         = "http://localhost:8080"
	defaultListenAddress        = ":8090"
	defaultDataDir              = ".possync"
	defaultLogLevel             = "info"
	defaultRequestTimeout       = 10 * time.Second
	defaultStatusRefresh        = 5 * time.Second
	defaultSyncInterval         = 30 * time.Second
	defaultProbeInterval        = 15 * time.Second
	defaultFailureThreshold     = 3
	defaultRecoveryThreshold    = 2
	defaultRetryScanInterval    = 15 * time.Second
	defaultRetryInitialInterval = 30 * time.Second
	defaultRetryMaxInterval     = 30 * time.Minute
	defaultConnectivityInterval = 5 * time.Second
)

var (
	ErrTerminalIDRequired   = errors.New("terminal_id не может быть пустым")
	ErrCloudAddressRequired = errors.New("cloud_address не может быть пустым")
	ErrInvalidThreshold     = errors.New("пороги проверки родителя должны быть больше нуля")
	ErrInvalidInterval      = errors.New("интервалы должны быть больше нуля")
)

// Config настройки терминала.
type Config struct {
	Env           string `mapstructure:"app_env"`
	TerminalID    string `mapstructure:"terminal_id"`
	BranchID      string `mapstructure:"branch_id"`
	CloudAddress  string `mapstructure:"cloud_address"`
	ParentAddress string `mapstructure:"parent_address"`
	ListenAddress string `mapstructure:"listen_address"`
	DataDir       string `mapstructure:"data_dir"`
	DBPath        string `mapstructure:"-"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	EnableTLS     bool   `mapstructure:"enable_tls"`

	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	StatusRefreshInterval time.Duration `mapstructure:"status_refresh_interval"`
	SyncInterval          time.Duration `mapstructure:"sync_interval"`

	Probe ProbeConfig
	Retry RetryConfig

	ConnectivityCheckInterval time.Duration `mapstructure:"connectivity_check_interval"`
}

// ProbeConfig проверка главного терминала.
type ProbeConfig struct {
	Interval          time.Duration `mapstructure:"probe_interval"`
	FailureThreshold  int           `mapstructure:"probe_failure_threshold"`
	RecoveryThreshold int           `mapstructure:"probe_recovery_threshold"`
}

// RetryConfig автоповтор финансовых записей.
type RetryConfig struct {
	AutoEnabled     bool          `mapstructure:"auto_retry_enabled"`
	ScanInterval    time.Duration `mapstructure:"retry_scan_interval"`
	InitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	MaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

// MustLoad загружает конфигурацию и паникует при ошибке.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("ошибка загрузки .env файла: %w", err)
		}
	}

	v := viper.GetViper()
	v.AutomaticEnv()
	SetDefaults(v)

	return FromViper(v)
}

// SetDefaults задает значения по умолчанию.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("CLOUD_ADDRESS", defaultCloudAddress)
	v.SetDefault("LISTEN_ADDRESS", defaultListenAddress)
	v.SetDefault("DATA_DIR", defaultDataDir)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("REQUEST_TIMEOUT", defaultRequestTimeout)
	v.SetDefault("STATUS_REFRESH_INTERVAL", defaultStatusRefresh)
	v.SetDefault("SYNC_INTERVAL", defaultSyncInterval)
	v.SetDefault("PROBE_INTERVAL", defaultProbeInterval)
	v.SetDefault("PROBE_FAILURE_THRESHOLD", defaultFailureThreshold)
	v.SetDefault("PROBE_RECOVERY_THRESHOLD", defaultRecoveryThreshold)
	v.SetDefault("AUTO_RETRY_ENABLED", true)
	v.SetDefault("RETRY_SCAN_INTERVAL", defaultRetryScanInterval)
	v.SetDefault("RETRY_INITIAL_INTERVAL", defaultRetryInitialInterval)
	v.SetDefault("RETRY_MAX_INTERVAL", defaultRetryMaxInterval)
	v.SetDefault("CONNECTIVITY_CHECK_INTERVAL", defaultConnectivityInterval)
}

// FromViper собирает Config из v и проверяет его.
func FromViper(v *viper.Viper) (*Config, error) {
	dataDir := v.GetString("DATA_DIR")
	if dataDir == defaultDataDir {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, dataDir)
	}

	cfg := &Config{
		Env:           v.GetString("APP_ENV"),
		TerminalID:    v.GetString("TERMINAL_ID"),
		BranchID:      v.GetString("BRANCH_ID"),
		CloudAddress:  v.GetString("CLOUD_ADDRESS"),
		ParentAddress: v.GetString("PARENT_ADDRESS"),
		ListenAddress: v.GetString("LISTEN_ADDRESS"),
		DataDir:       dataDir,
		DBPath:        filepath.Join(dataDir, "terminal.db"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFile:       v.GetString("LOG_FILE"),
		EnableTLS:     v.GetBool("ENABLE_TLS"),

		RequestTimeout:        v.GetDuration("REQUEST_TIMEOUT"),
		StatusRefreshInterval: v.GetDuration("STATUS_REFRESH_INTERVAL"),
		SyncInterval:          v.GetDuration("SYNC_INTERVAL"),

		Probe: ProbeConfig{
			Interval:          v.GetDuration("PROBE_INTERVAL"),
			FailureThreshold:  v.GetInt("PROBE_FAILURE_THRESHOLD"),
			RecoveryThreshold: v.GetInt("PROBE_RECOVERY_THRESHOLD"),
		},
		Retry: RetryConfig{
			AutoEnabled:     v.GetBool("AUTO_RETRY_ENABLED"),
			ScanInterval:    v.GetDuration("RETRY_SCAN_INTERVAL"),
			InitialInterval: v.GetDuration("RETRY_INITIAL_INTERVAL"),
			MaxInterval:     v.GetDuration("RETRY_MAX_INTERVAL"),
		},

		ConnectivityCheckInterval: v.GetDuration("CONNECTIVITY_CHECK_INTERVAL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TerminalID == "" {
		return ErrTerminalIDRequired
	}
	if c.CloudAddress == "" {
		return ErrCloudAddressRequired
	}
	if c.Probe.FailureThreshold < 1 || c.Probe.RecoveryThreshold < 1 {
		return ErrInvalidThreshold
	}

	intervals := []time.Duration{
		c.RequestTimeout,
		c.StatusRefreshInterval,
		c.SyncInterval,
		c.Probe.Interval,
		c.Retry.ScanInterval,
		c.Retry.InitialInterval,
		c.Retry.MaxInterval,
		c.ConnectivityCheckInterval,
	}
	for _, d := range intervals {
		if d <= 0 {
			return ErrInvalidInterval
		}
	}
	return nil
}

// IsMain терминал главный в филиале, если родитель не задан.
func (c *Config) IsMain() bool {
	return c.ParentAddress == ""
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == EnvDev
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal || c.Env == ""
}
