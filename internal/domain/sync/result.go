package sync

// Result результат операции для локальных потребителей (UI и другие
// компоненты). Ожидаемые сбои возвращаются здесь, а не через error.
type Result struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ok возвращает успешный результат.
func Ok(message string) Result {
	return Result{Success: true, Message: message}
}

// Fail строит неуспешный результат из ошибки.
func Fail(err error) Result {
	if err == nil {
		return Result{Success: false}
	}
	return Result{
		Success: false,
		Kind:    KindOf(err).String(),
		Error:   err.Error(),
	}
}
