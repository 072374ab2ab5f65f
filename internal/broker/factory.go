package broker

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algopilot/pkg/retry"
)

// Имена брокеров для фабрики
const (
	DhanBroker  = dhanName
	PaperBroker = paperName
)

// SupportedBrokers - список поддерживаемых брокеров
var SupportedBrokers = []string{
	dhanName,
	paperName,
}

// Credentials - расшифрованные учётные данные счёта
type Credentials struct {
	APIKey      string
	APISecret   string
	AccessToken string
	AccountID   string
}

// Options - общие настройки адаптеров процесса
type Options struct {
	Sandbox     bool
	DhanBaseURL string // перекрывает Sandbox, используется в тестах
	OrderRate   float64
	DataRate    float64
	Retry       retry.Config
	HTTP        *HTTPClient

	PaperInitialCapital decimal.Decimal

	Logger *zap.Logger
}

// New создаёт адаптер по имени брокера
func New(name string, creds Credentials, opts Options) (Adapter, error) {
	switch strings.ToLower(name) {
	case dhanName:
		if creds.AccessToken == "" {
			return nil, fmt.Errorf("%w: dhan adapter requires access_token", ErrMissingCredentials)
		}
		if creds.AccountID == "" {
			return nil, fmt.Errorf("%w: dhan adapter requires account_id", ErrMissingCredentials)
		}
		baseURL := opts.DhanBaseURL
		if baseURL == "" {
			baseURL = DhanBaseURL
			if opts.Sandbox {
				baseURL = DhanSandboxBaseURL
			}
		}
		return NewDhanAdapter(creds.APIKey, creds.AccessToken, creds.AccountID, DhanConfig{
			BaseURL:   baseURL,
			OrderRate: opts.OrderRate,
			DataRate:  opts.DataRate,
			Retry:     opts.Retry,
			HTTP:      opts.HTTP,
			Logger:    opts.Logger,
		}), nil
	case paperName:
		return NewPaperAdapter(opts.PaperInitialCapital), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBroker, name)
	}
}

// IsSupported проверяет, поддерживается ли брокер
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedBrokers {
		if name == supported {
			return true
		}
	}
	return false
}
