package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// Виды брокерских ошибок, проверяются через errors.Is
var (
	ErrAuthentication     = errors.New("broker authentication failed")
	ErrOrder              = errors.New("broker order error")
	ErrTransport          = errors.New("broker transport error")
	ErrUnsupportedBroker  = errors.New("unsupported broker")
	ErrMissingCredentials = errors.New("missing broker credentials")
)

// BrokerError - ошибка от брокера
type BrokerError struct {
	Broker  string
	Op      string // place_order, order_status, ...
	Code    string // HTTP статус или код брокера
	Message string
	Kind    error // один из Err* выше
	Err     error // исходная ошибка
}

func (e *BrokerError) Error() string {
	msg := e.Broker + " " + e.Op + ": " + e.Message
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap отдаёт вид и исходную ошибку для errors.Is() и errors.As()
func (e *BrokerError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable: транспорт, 429 и 5xx можно повторять, остальное нет
func (e *BrokerError) Retryable() bool {
	if errors.Is(e.Kind, ErrTransport) {
		return true
	}
	switch e.Code {
	case "429", "500", "502", "503", "504":
		return true
	}
	return false
}

func newError(broker, op string, kind error, format string, args ...interface{}) *BrokerError {
	return &BrokerError{
		Broker:  broker,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
	}
}

// kindForStatus: 401/403 - аутентификация, остальное - ошибка операции
func kindForStatus(status int, opKind error) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrAuthentication
	}
	return opKind
}
