package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Ошибки валидации
var (
	ErrInvalidSymbol     = errors.New("invalid symbol format")
	ErrInvalidExchange   = errors.New("unsupported exchange segment")
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrInvalidPrice      = errors.New("price must be greater than 0")
	ErrInvalidPercentage = errors.New("percentage must be in (0, 100]")
	ErrInvalidAPIKey     = errors.New("api key is too short")
	ErrInvalidBroker     = errors.New("unsupported broker")
)

// Тикеры NSE/BSE: буквы, цифры, & и - (M&M, BAJAJ-AUTO, NIFTY24JANFUT)
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9&_\-]{0,29}$`)

// SupportedExchanges - сегменты, которые понимает API брокера
var SupportedExchanges = []string{"NSE", "BSE", "NFO", "BFO", "MCX", "CDS"}

// SupportedBrokers - брокеры, для которых есть адаптер
var SupportedBrokers = []string{"dhan", "paper"}

const minAPIKeyLength = 8

// ValidateSymbol проверяет формат тикера (регистр не важен)
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(NormalizeSymbol(symbol)) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// NormalizeSymbol приводит тикер к верхнему регистру без пробелов по краям
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateExchange проверяет сегмент биржи
func ValidateExchange(exchange string) error {
	ex := NormalizeExchange(exchange)
	for _, s := range SupportedExchanges {
		if s == ex {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidExchange, exchange)
}

// NormalizeExchange приводит сегмент к верхнему регистру
func NormalizeExchange(exchange string) string {
	return strings.ToUpper(strings.TrimSpace(exchange))
}

// ValidateQuantity проверяет количество (> 0)
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// ValidatePrice проверяет цену, если она задана
func ValidatePrice(price decimal.NullDecimal) error {
	if price.Valid && !price.Decimal.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

// ValidatePercentage проверяет процентный лимит
func ValidatePercentage(pct float64) error {
	if pct <= 0 || pct > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// ValidateAPIKey - базовая проверка длины ключа
func ValidateAPIKey(key string) error {
	if len(strings.TrimSpace(key)) < minAPIKeyLength {
		return ErrInvalidAPIKey
	}
	return nil
}

// ValidateBroker проверяет имя брокера
func ValidateBroker(name string) error {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, b := range SupportedBrokers {
		if b == n {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidBroker, name)
}

// ValidationError - ошибка конкретного поля
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors собирает ошибки по всем полям запроса
type ValidationErrors []ValidationError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors возвращает true если есть хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// OrNil возвращает nil если ошибок нет (иначе typed nil в интерфейсе error)
func (v ValidationErrors) OrNil() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}
