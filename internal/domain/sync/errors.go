// Package sync содержит общий словарь слоя синхронизации терминала:
// таксономию ошибок, результат операций и шину событий.
package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind классифицирует ошибку синхронизации.
type Kind int

const (
	// KindUnknown ошибка не классифицирована.
	KindUnknown Kind = iota
	// KindConnectivity облако недоступно, повторяемая.
	KindConnectivity
	// KindTransient 5xx или таймаут на стороне сервера, повторяемая.
	KindTransient
	// KindConflict расхождение версий, никогда не повторяется как обычная запись.
	KindConflict
	// KindValidation некорректные данные, не повторяется автоматически.
	KindValidation
	// KindPermanent например запись удалена в облаке, нужна реакция оператора.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ParseKind восстанавливает Kind из строки, сохраненной в хранилище.
func ParseKind(s string) Kind {
	switch s {
	case "connectivity":
		return KindConnectivity
	case "transient":
		return KindTransient
	case "conflict":
		return KindConflict
	case "validation":
		return KindValidation
	case "permanent":
		return KindPermanent
	default:
		return KindUnknown
	}
}

// Retryable сообщает, можно ли повторять операцию автоматически.
func (k Kind) Retryable() bool {
	return k == KindConnectivity || k == KindTransient || k == KindUnknown
}

// Error ошибка синхронизации с классом.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind позволяет другим типам ошибок участвовать в классификации.
func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// kinded реализуют ошибки, которые знают свой класс.
type kinded interface {
	ErrorKind() Kind
}

// Wrap оборачивает err в *Error с заданным классом.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Connectivity создает ошибку недоступности облака.
func Connectivity(op string, err error) error { return Wrap(KindConnectivity, op, err) }

// Transient создает временную серверную ошибку.
func Transient(op string, err error) error { return Wrap(KindTransient, op, err) }

// Validation создает ошибку валидации.
func Validation(op string, err error) error { return Wrap(KindValidation, op, err) }

// Permanent создает неустранимую ошибку.
func Permanent(op string, err error) error { return Wrap(KindPermanent, op, err) }

// ErrCancelled операция прервана вызывающей стороной.
var ErrCancelled = errors.New("cancelled")

// Cancelled создает ошибку отмены ожидания. Отмена относится к временным
// ошибкам и не означает недоступность облака.
func Cancelled(op string, err error) error {
	return Wrap(KindTransient, op, fmt.Errorf("%w: %w", ErrCancelled, err))
}

// KindOf определяет класс ошибки. Сетевые ошибки и отмена контекста
// считаются недоступностью, таймауты считаются временными.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTransient
		}
		return KindConnectivity
	}

	return KindUnknown
}

// IsRetryable сообщает, стоит ли повторять операцию, завершившуюся err.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
