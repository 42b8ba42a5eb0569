package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config содержит конфигурацию приложения.
type Config struct {
	RunAddress        string
	DatabaseURI       string
	JWTSecret         string
	ProvisionToken    string
	PlatformAccountID uuid.UUID

	Routing  RoutingConfig
	Dispatch DispatchConfig
	Notify   NotifyConfig
	Alerts   AlertsConfig
	Bank     BankConfig
}

// fileConfig: разделы YAML-файла.
type fileConfig struct {
	Dispatch *DispatchConfig `yaml:"dispatch"`
	Notify   *NotifyConfig   `yaml:"notify"`
	Alerts   *AlertsConfig   `yaml:"alerts"`
}

// RoutingConfig: адрес OSRM для расчёта расстояния доставки.
type RoutingConfig struct {
	Address string
	Timeout time.Duration
}

// DispatchConfig: параметры назначения водителей.
type DispatchConfig struct {
	RadiusKm      float64       `yaml:"radius_km"`
	AcceptWindow  time.Duration `yaml:"accept_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NotifyConfig: каналы push-уведомлений.
type NotifyConfig struct {
	ExpoPushURL   string        `yaml:"expo_push_url"`
	TelegramToken string        `yaml:"telegram_token"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AlertsConfig: куда отправлять операционные события.
// Пустые QueueURL и MetricNamespace оставляют только запись в лог.
type AlertsConfig struct {
	QueueURL        string `yaml:"queue_url"`
	MetricNamespace string `yaml:"metric_namespace"`
	Region          string `yaml:"region"`
}

// BankConfig: доступ к API банка для проверки мобильных платежей.
type BankConfig struct {
	APIURL     string
	MerchantID string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
}

// Enabled сообщает, настроена ли отправка событий в AWS.
func (a AlertsConfig) Enabled() bool {
	return a.QueueURL != "" || a.MetricNamespace != ""
}

func defaults() *Config {
	return &Config{
		RunAddress: "localhost:8080",
		JWTSecret:  "default-secret-change-in-production",
		Routing:    RoutingConfig{Timeout: 5 * time.Second},
		Dispatch: DispatchConfig{
			RadiusKm:      5,
			AcceptWindow:  60 * time.Second,
			SweepInterval: 5 * time.Second,
		},
		Notify: NotifyConfig{Timeout: 5 * time.Second},
		Bank:   BankConfig{Timeout: 10 * time.Second},
	}
}

// Load загружает .env, флаги командной строки, YAML-файл и переменные окружения.
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()
	return LoadFrom(os.Args[1:])
}

// LoadFrom собирает конфигурацию по аргументам args.
// Приоритет для RUN_ADDRESS и DATABASE_URI: переменные окружения > флаги > значения по умолчанию.
// Для параметров назначения, уведомлений и алертов: окружение > YAML > значения по умолчанию.
func LoadFrom(args []string) (*Config, error) {
	cfg := defaults()

	var configPath string
	fs := flag.NewFlagSet("fooddispatch", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", cfg.RunAddress, "адрес и порт запуска сервиса")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "строка подключения к PostgreSQL")
	fs.StringVar(&configPath, "c", "", "путь к YAML-файлу с параметрами назначения")
	fs.StringVar(&cfg.Routing.Address, "o", "", "адрес OSRM")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		if err := loadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	file := fileConfig{Dispatch: &cfg.Dispatch, Notify: &cfg.Notify, Alerts: &cfg.Alerts}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.RunAddress, "RUN_ADDRESS")
	setString(&cfg.DatabaseURI, "DATABASE_URI")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.ProvisionToken, "PROVISION_TOKEN")

	if v := os.Getenv("PLATFORM_ACCOUNT_ID"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid PLATFORM_ACCOUNT_ID: %w", err)
		}
		cfg.PlatformAccountID = id
	}

	setString(&cfg.Routing.Address, "ROUTING_ADDRESS")
	setDuration(&cfg.Routing.Timeout, "ROUTING_TIMEOUT")

	if v := os.Getenv("DISPATCH_RADIUS_KM"); v != "" {
		if km, err := strconv.ParseFloat(v, 64); err == nil && km > 0 {
			cfg.Dispatch.RadiusKm = km
		}
	}
	setDuration(&cfg.Dispatch.AcceptWindow, "DISPATCH_ACCEPT_WINDOW")
	setDuration(&cfg.Dispatch.SweepInterval, "DISPATCH_SWEEP_INTERVAL")

	setString(&cfg.Notify.ExpoPushURL, "EXPO_PUSH_URL")
	setString(&cfg.Notify.TelegramToken, "TELEGRAM_TOKEN")

	setString(&cfg.Bank.APIURL, "BANK_API_URL")
	setString(&cfg.Bank.MerchantID, "BANK_MERCHANT_ID")
	setString(&cfg.Bank.APIKey, "BANK_API_KEY")
	setString(&cfg.Bank.APISecret, "BANK_API_SECRET")

	setString(&cfg.Alerts.QueueURL, "ALERTS_QUEUE_URL")
	setString(&cfg.Alerts.MetricNamespace, "ALERTS_METRIC_NAMESPACE")
	setString(&cfg.Alerts.Region, "AWS_REGION")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setDuration игнорирует значения, которые не удалось разобрать.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
