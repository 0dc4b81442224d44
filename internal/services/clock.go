package services

import "time"

// Clock предоставляет текущее время в секундах Unix.
type Clock interface {
	Now() uint64
}

// SystemClock - часы на основе системного времени.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix()) //nolint:gosec // время после 1970 года неотрицательно
}

// ClockFunc позволяет использовать функцию как Clock.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 {
	return f()
}
