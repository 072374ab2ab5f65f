package strategy

import (
	"fmt"
	"sort"

	"algopilot/internal/models"
)

// Factory создаёт стратегию из конфигурации запуска и проверяет её
type Factory func(config models.JSONMap) (Strategy, error)

// Registry - закрытый набор реализаций, задаётся при старте процесса
type Registry struct {
	factories map[string]Factory
}

// NewRegistry копирует переданную карту код -> фабрика
func NewRegistry(factories map[string]Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for code, f := range factories {
		r.factories[code] = f
	}
	return r
}

// DefaultRegistry - реализации, доступные в поставке
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Factory{
		SMACrossoverCode: NewSMACrossover,
		"ma_crossover":   NewSMACrossover,
		"simple_ma":      NewSMACrossover,
		"moving_average": NewSMACrossover,
	})
}

// Has проверяет, зарегистрирован ли код
func (r *Registry) Has(code string) bool {
	_, ok := r.factories[code]
	return ok
}

// New создаёт стратегию по коду
func (r *Registry) New(code string, config models.JSONMap) (Strategy, error) {
	f, ok := r.factories[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, code)
	}
	s, err := f(config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, err)
	}
	return s, nil
}

// Validate проверяет код и конфигурацию без сохранения стратегии
func (r *Registry) Validate(code string, config models.JSONMap) error {
	_, err := r.New(code, config)
	return err
}

// Codes возвращает отсортированный список кодов
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.factories))
	for code := range r.factories {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
