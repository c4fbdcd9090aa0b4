package order

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) pushOp() huma.Operation {
	return huma.Operation{
		OperationID: "push-order",
		Method:      http.MethodPost,
		Path:        "/api/v1/orders/{id}/push",
		Summary:     "Relay an order update to the cloud",
		Description: "Pushes the order with its base version. A version mismatch answers 409 with the current cloud order",
		Tags:        []string{"orders"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) fetchOp() huma.Operation {
	return huma.Operation{
		OperationID: "fetch-order",
		Method:      http.MethodGet,
		Path:        "/api/v1/orders/{id}",
		Summary:     "Fetch the current cloud order",
		Tags:        []string{"orders"},
		Middlewares: h.middleware,
	}
}
