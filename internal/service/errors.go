// Пакет service — бизнес-логика filedrop.
// errors.go — типизированные ошибки сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

// ErrorKind — категория ошибки; на границе HTTP отображается в статус.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindNotFound          ErrorKind = "NotFound"
	KindOutOfOrder        ErrorKind = "OutOfOrder"
	KindIncomplete        ErrorKind = "Incomplete"
	KindSizeLimitExceeded ErrorKind = "SizeLimitExceeded"
	KindIOFailure         ErrorKind = "IOFailure"
)

// Error — ошибка операции сервиса.
type Error struct {
	Kind    ErrorKind
	Message string
	// Limit — действующий предел размера для KindSizeLimitExceeded
	Limit int64
	// Err — исходная ошибка (может быть nil)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf возвращает категорию ошибки. Нетипизированные ошибки — IOFailure.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIOFailure
}

// IsKind проверяет категорию ошибки.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ioFailure(err error, format string, args ...any) *Error {
	return &Error{Kind: KindIOFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

func outOfOrder(format string, args ...any) *Error {
	return &Error{Kind: KindOutOfOrder, Message: fmt.Sprintf(format, args...)}
}

func incomplete(format string, args ...any) *Error {
	return &Error{Kind: KindIncomplete, Message: fmt.Sprintf(format, args...)}
}

func sizeLimitExceeded(limit int64) *Error {
	return &Error{
		Kind:    KindSizeLimitExceeded,
		Message: fmt.Sprintf("Размер файла превышает максимум %d байт", limit),
		Limit:   limit,
	}
}
