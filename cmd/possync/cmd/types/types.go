package types

import (
	"errors"

	"github.com/spf13/cobra"

	"possync/internal/app/terminal"
)

type contextKey string

// AppKey ключ приложения терминала в контексте команды.
const AppKey contextKey = "terminal_app"

var ErrAppNotInitialized = errors.New("приложение не инициализировано")

// App достает приложение терминала из контекста команды.
func App(cmd *cobra.Command) (*terminal.App, error) {
	app, ok := cmd.Context().Value(AppKey).(*terminal.App)
	if !ok || app == nil {
		return nil, ErrAppNotInitialized
	}
	return app, nil
}
