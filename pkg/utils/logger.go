package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - параметры логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text (console)
	Output      string // путь к файлу, пусто = stderr
	Development bool
}

// Logger - обёртка над zap с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации.
// Если файл вывода недоступен, пишет в stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	format := strings.ToLower(cfg.Format)
	if format == "" && !cfg.Development {
		format = "json"
	}
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	z := zap.New(core, opts...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая его при первом обращении
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// Sugar возвращает sugared-логгер для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Sync сбрасывает буферы
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// ============================================================
// Глобальные функции
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// ============================================================
// Доменные поля
// ============================================================

func StrategyRunID(id int) zap.Field     { return zap.Int("strategy_run_id", id) }
func StrategyName(name string) zap.Field { return zap.String("strategy", name) }
func OrderID(id int) zap.Field           { return zap.Int("order_id", id) }
func BrokerOrderID(id string) zap.Field  { return zap.String("broker_order_id", id) }
func TradeID(id int) zap.Field           { return zap.Int("trade_id", id) }
func BrokerAccountID(id int) zap.Field   { return zap.Int("broker_account_id", id) }
func Broker(name string) zap.Field       { return zap.String("broker", name) }
func Symbol(symbol string) zap.Field     { return zap.String("symbol", symbol) }
func Side(side string) zap.Field         { return zap.String("side", side) }
func Quantity(qty int) zap.Field         { return zap.Int("quantity", qty) }
func Status(status string) zap.Field     { return zap.String("status", status) }
func RiskRule(name string) zap.Field     { return zap.String("risk_rule", name) }
func Latency(ms float64) zap.Field       { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field      { return zap.String("request_id", id) }
func Component(name string) zap.Field    { return zap.String("component", name) }
