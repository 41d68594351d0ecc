package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — входные данные не прошли проверку.
	ErrValidation = errors.New("некорректные данные")
	// ErrCapabilityTimeout — внешний сервис (классификация, тональность, перевод) не ответил вовремя.
	ErrCapabilityTimeout = errors.New("внешний сервис не ответил")
	// ErrConflict — нарушена уникальность.
	ErrConflict = errors.New("конфликт уникальности")
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("не найдено")
	// ErrStateTransition — переход модерации запрещён.
	ErrStateTransition = errors.New("недопустимый переход состояния")
)

// Validationf оборачивает ErrValidation с пояснением.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf оборачивает ErrConflict с пояснением.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf оборачивает ErrNotFound с пояснением.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// TransitionError описывает отклонённый переход модерации.
type TransitionError struct {
	From    ModerationStatus
	To      ModerationStatus
	Trigger Trigger
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("переход %s -> %s (%s) запрещён: %s", e.From, e.To, e.Trigger, e.Reason)
	}
	return fmt.Sprintf("переход %s -> %s (%s) запрещён", e.From, e.To, e.Trigger)
}

// Is позволяет сравнивать ошибку с ErrStateTransition через errors.Is.
func (e *TransitionError) Is(target error) bool {
	return target == ErrStateTransition
}
