package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"algopilot/internal/broker"
	"algopilot/internal/engine"
	"algopilot/internal/risk"
	"algopilot/pkg/crypto"
	"algopilot/pkg/retry"
	"algopilot/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Broker   BrokerConfig
	Risk     risk.Limits
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string
	// APITokenHash - bcrypt-хэш токена API. Пусто = аутентификация выключена.
	APITokenHash string
	CORSOrigins  []string
	WSOrigins    []string
}

// BrokerConfig - настройки адаптеров брокеров
type BrokerConfig struct {
	Sandbox     bool
	DhanBaseURL string

	// Лимиты запросов в секунду по категориям
	OrderRate float64
	DataRate  float64

	HTTPTimeout time.Duration

	MaxRetries   int
	RetryBackoff time.Duration

	PaperInitialCapital decimal.Decimal
}

// EngineConfig - параметры исполнения запусков
type EngineConfig struct {
	MailboxSize       int
	EventTimeout      time.Duration
	SubmitTimeout     time.Duration
	OrderSyncInterval time.Duration
	OrderSyncBatch    int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() (*Config, error) {
	// .env необязателен; переменные окружения имеют приоритет
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию только из переменных окружения
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "algopilot"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
			CORSOrigins:   getEnvAsList("CORS_ORIGINS", []string{"*"}),
			WSOrigins:     getEnvAsList("WS_ORIGINS", nil),
		},
		Broker: BrokerConfig{
			Sandbox:      getEnvAsBool("DHAN_SANDBOX", false),
			DhanBaseURL:  getEnv("DHAN_BASE_URL", ""),
			OrderRate:    getEnvAsFloat("BROKER_ORDER_RATE", 10),
			DataRate:     getEnvAsFloat("BROKER_DATA_RATE", 20),
			HTTPTimeout:  getEnvAsDuration("BROKER_HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvAsInt("BROKER_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("BROKER_RETRY_BACKOFF", 200*time.Millisecond),
		},
		Risk: risk.DefaultLimits(),
		Engine: EngineConfig{
			MailboxSize:       getEnvAsInt("RUN_MAILBOX_SIZE", 64),
			EventTimeout:      getEnvAsDuration("RUN_EVENT_TIMEOUT", 30*time.Second),
			SubmitTimeout:     getEnvAsDuration("ORDER_SUBMIT_TIMEOUT", 30*time.Second),
			OrderSyncInterval: getEnvAsDuration("ORDER_SYNC_INTERVAL", 5*time.Second),
			OrderSyncBatch:    getEnvAsInt("ORDER_SYNC_BATCH", 200),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	capital, err := getEnvAsDecimal("PAPER_INITIAL_CAPITAL", broker.DefaultPaperCapital)
	if err != nil {
		return nil, err
	}
	cfg.Broker.PaperInitialCapital = capital

	// Файл лимитов перекрывает значения по умолчанию, переменные - файл
	if path := getEnv("RISK_LIMITS_FILE", ""); path != "" {
		if err := loadRiskLimits(path, &cfg.Risk); err != nil {
			return nil, err
		}
	}
	cfg.Risk.MaxDailyLossPercent = getEnvAsFloat("RISK_MAX_DAILY_LOSS_PERCENT", cfg.Risk.MaxDailyLossPercent)
	cfg.Risk.MaxOpenPositions = getEnvAsInt("RISK_MAX_OPEN_POSITIONS", cfg.Risk.MaxOpenPositions)
	cfg.Risk.MaxCapitalPerOrderPercent = getEnvAsFloat("RISK_MAX_CAPITAL_PER_ORDER_PERCENT", cfg.Risk.MaxCapitalPerOrderPercent)
	cfg.Risk.MaxCapitalPerStrategyPercent = getEnvAsFloat("RISK_MAX_CAPITAL_PER_STRATEGY_PERCENT", cfg.Risk.MaxCapitalPerStrategyPercent)

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRiskLimits читает YAML с лимитами поверх текущих значений
func loadRiskLimits(path string, limits *risk.Limits) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read risk limits file: %w", err)
	}
	if err := yaml.Unmarshal(data, limits); err != nil {
		return fmt.Errorf("parse risk limits file %s: %w", path, err)
	}
	return nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования ключей брокеров
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting broker credentials")
	}

	if len(c.Security.EncryptionKey) != crypto.KeySize {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly %d bytes for AES-256", crypto.KeySize)
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Broker.MaxRetries < 0 || c.Broker.MaxRetries > 10 {
		return fmt.Errorf("BROKER_MAX_RETRIES must be between 0 and 10, got %d", c.Broker.MaxRetries)
	}

	if c.Broker.OrderRate <= 0 || c.Broker.DataRate <= 0 {
		return fmt.Errorf("broker rate limits must be positive, got order=%v data=%v", c.Broker.OrderRate, c.Broker.DataRate)
	}

	if !c.Broker.PaperInitialCapital.IsPositive() {
		return fmt.Errorf("PAPER_INITIAL_CAPITAL must be positive, got %s", c.Broker.PaperInitialCapital)
	}

	// Лимиты риска: проценты в (0, 100]
	percents := map[string]float64{
		"max_daily_loss_percent":           c.Risk.MaxDailyLossPercent,
		"max_capital_per_order_percent":    c.Risk.MaxCapitalPerOrderPercent,
		"max_capital_per_strategy_percent": c.Risk.MaxCapitalPerStrategyPercent,
	}
	for name, v := range percents {
		if v <= 0 || v > 100 {
			return fmt.Errorf("risk limit %s must be in (0, 100], got %v", name, v)
		}
	}
	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("risk limit max_open_positions must be positive, got %d", c.Risk.MaxOpenPositions)
	}

	// Валидация таймаутов (должны быть положительными)
	timeouts := map[string]time.Duration{
		"BROKER_HTTP_TIMEOUT":  c.Broker.HTTPTimeout,
		"RUN_EVENT_TIMEOUT":    c.Engine.EventTimeout,
		"ORDER_SUBMIT_TIMEOUT": c.Engine.SubmitTimeout,
		"ORDER_SYNC_INTERVAL":  c.Engine.OrderSyncInterval,
		"SHUTDOWN_TIMEOUT":     c.Server.ShutdownTimeout,
	}
	for name, v := range timeouts {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}

	if c.Engine.MailboxSize < 1 {
		return fmt.Errorf("RUN_MAILBOX_SIZE must be positive, got %d", c.Engine.MailboxSize)
	}
	if c.Engine.OrderSyncBatch < 1 {
		return fmt.Errorf("ORDER_SYNC_BATCH must be positive, got %d", c.Engine.OrderSyncBatch)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr - адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig переводит настройки в параметры логгера
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       l.Level,
		Format:      l.Format,
		Output:      l.Output,
		Development: l.Development,
	}
}

// BrokerOptions собирает общие настройки адаптеров.
// MaxRetries - число повторов сверх первой попытки.
func (b BrokerConfig) BrokerOptions(logger *zap.Logger) broker.Options {
	httpCfg := broker.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = b.HTTPTimeout

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = b.MaxRetries + 1
	retryCfg.InitialDelay = b.RetryBackoff

	return broker.Options{
		Sandbox:             b.Sandbox,
		DhanBaseURL:         b.DhanBaseURL,
		OrderRate:           b.OrderRate,
		DataRate:            b.DataRate,
		Retry:               retryCfg,
		HTTP:                broker.NewHTTPClient(httpCfg),
		PaperInitialCapital: b.PaperInitialCapital,
		Logger:              logger,
	}
}

// ProcessorConfig - параметры обработчика намерений
func (e EngineConfig) ProcessorConfig() engine.ProcessorConfig {
	return engine.ProcessorConfig{SubmitTimeout: e.SubmitTimeout}
}

// SupervisorConfig - параметры супервизора запусков
func (e EngineConfig) SupervisorConfig() engine.SupervisorConfig {
	return engine.SupervisorConfig{MailboxSize: e.MailboxSize, EventTimeout: e.EventTimeout}
}

// OrderSyncConfig - параметры синхронизации ордеров
func (e EngineConfig) OrderSyncConfig() engine.OrderSyncConfig {
	return engine.OrderSyncConfig{Interval: e.OrderSyncInterval, BatchSize: e.OrderSyncBatch}
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, пустые элементы пропускаются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsDecimal - невалидная сумма возвращает ошибку, а не значение по умолчанию
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number: %w", key, err)
	}
	return value, nil
}
