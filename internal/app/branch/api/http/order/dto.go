package order

import (
	"net/http"

	domain "possync/internal/domain/order"
)

// Тело отправки читается целиком и разбирается вручную: заказ проверяется
// order.Validate, а не схемой.
type pushInput struct {
	ID             string `path:"id" doc:"Order id"`
	IdempotencyKey string `header:"Idempotency-Key"`
	TerminalID     string `header:"X-Terminal-ID"`
	RawBody        []byte `contentType:"application/json"`
}

type pushOutput struct {
	Body domain.Order
}

// PushRequest тело отправки заказа с базовой версией.
type PushRequest struct {
	Order          domain.Order `json:"order"`
	BaseVersion    int64        `json:"base_version"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	TerminalID     string       `json:"terminal_id,omitempty"`
}

type fetchInput struct {
	ID string `path:"id" doc:"Order id"`
}

type fetchOutput struct {
	Body domain.Order
}

// ConflictError ответ 409 с текущим заказом облака.
type ConflictError struct {
	Message string        `json:"error"`
	Remote  *domain.Order `json:"remote"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) GetStatus() int {
	return http.StatusConflict
}
