package status

import (
	"possync/internal/domain/routing"
	domain "possync/internal/domain/status"
)

type Input struct{}

type Output struct {
	Body Response
}

type Response struct {
	TerminalID string            `json:"terminal_id"`
	Status     domain.SyncStatus `json:"status"`
	Routing    routing.State     `json:"routing"`
}
