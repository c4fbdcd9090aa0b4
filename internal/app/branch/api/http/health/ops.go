package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Main terminal reachability probe",
		Description: "Branch terminals call this endpoint to decide whether to route through the main terminal",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
