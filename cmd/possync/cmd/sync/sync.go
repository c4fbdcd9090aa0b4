package sync

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Выполнить цикл синхронизации",
	Long: `Отправляет ожидающие заказы, повторяет отложенные разрешения
конфликтов и финансовые записи, срок повтора которых наступил.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		app.CheckNow(cmd.Context())
		report := app.SyncNow(cmd.Context())

		if output.JSONRequested(cmd) {
			if err := output.JSON(report); err != nil {
				return err
			}
		} else {
			fmt.Println("=== Синхронизация ===")
			fmt.Printf("Время выполнения: %v\n", report.Duration.Round(time.Millisecond))
			fmt.Printf("Отправлено заказов: %d\n", report.Pushed)
			fmt.Printf("Новых конфликтов: %d\n", report.Conflicts)
			fmt.Printf("Не отправлено: %d\n", report.Failed)
			fmt.Printf("Разрешений конфликтов отправлено: %d\n", report.Replay.Resolved)
			fmt.Printf("Финансовых записей доставлено: %d из %d\n", report.Retry.Succeeded, report.Retry.Total)
			if report.Replay.Stopped {
				fmt.Printf("⚠️  Облако недоступно, осталось разрешений: %d\n", report.Replay.Remaining)
			}
		}

		if !report.Result.Success {
			return fmt.Errorf("синхронизация не завершена: %s", report.Result.Error)
		}
		return nil
	},
}
