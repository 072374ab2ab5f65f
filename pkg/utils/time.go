package utils

import (
	"time"
)

// time.go - границы торгового дня.
// Дневной лимит убытка и статистика риск-событий считаются от полуночи UTC.

// GetDayStart возвращает начало текущего дня (00:00:00) в UTC
//
// Пример:
//
//	// Сейчас: 2024-01-15 14:30:45 UTC
//	start := GetDayStart()
//	// start: 2024-01-15 00:00:00 UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now().UTC())
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayEndFrom возвращает конец дня (23:59:59.999999999) для указанного времени
func GetDayEndFrom(t time.Time) time.Time {
	return GetDayStartFrom(t).Add(24*time.Hour - time.Nanosecond)
}

// IsSameDay проверяет, что два момента попадают в один день UTC
func IsSameDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

// SinceMs возвращает миллисекунды с момента start (для метрик и логов)
func SinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
