package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/types"
)

var logCloser io.Closer

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить фоновую синхронизацию",
	Long: `Запускает терминал: периодическое обновление статуса, отправку
заказов, повтор финансовых записей и проверку главного терминала.

Главный терминал (без PARENT_ADDRESS) также поднимает API филиала.
Остановка по Ctrl+C или SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Терминал %s запущен, облако %s\n", cfg.TerminalID, cfg.CloudAddress)
		if err := app.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("ошибка работы терминала: %w", err)
		}
		fmt.Println("Терминал остановлен")
		return nil
	},
}
