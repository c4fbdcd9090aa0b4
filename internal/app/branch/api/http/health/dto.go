package health

type Input struct{}

type Output struct {
	Body Response
}

type Response struct {
	Status     string `json:"status" example:"OK" doc:"Health status of the main terminal"`
	TerminalID string `json:"terminal_id" doc:"Main terminal id"`
	BranchID   string `json:"branch_id,omitempty" doc:"Branch id"`
	Time       string `json:"time" format:"date-time" doc:"Terminal clock"`
}
