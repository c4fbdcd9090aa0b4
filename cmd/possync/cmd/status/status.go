package status

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
	"possync/internal/domain/financial"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Статус синхронизации терминала",
	Long: `Проверяет сеть и главный терминал, пересчитывает и выводит
сводный статус синхронизации.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		st := app.CheckNow(cmd.Context())
		if output.JSONRequested(cmd) {
			return output.JSON(st)
		}

		fmt.Println("=== Статус синхронизации ===")
		fmt.Printf("Состояние: %s\n", output.State(st.State))
		fmt.Printf("Сеть: %s\n", online(st.IsOnline))
		fmt.Printf("Здоровье терминала: %.0f%%\n", st.TerminalHealth*100)
		fmt.Printf("Последняя синхронизация: %s\n", output.Time(st.LastSync))
		if st.Error != "" {
			fmt.Printf("Последняя ошибка: %s\n", st.Error)
		}

		fmt.Println()
		fmt.Printf("Ожидают отправки: %d (оплаты: %d)\n", st.PendingItems, st.PendingPaymentItems)
		fmt.Printf("Открытых конфликтов: %d\n", st.OpenConflicts)
		fmt.Printf("Неотправленных финансовых записей: %d\n", st.FailedPaymentItems)

		tables := make([]financial.TableName, 0, len(st.FailedByCategory))
		for t := range st.FailedByCategory {
			tables = append(tables, t)
		}
		sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })
		for _, t := range tables {
			fmt.Printf("  • %s: %d\n", t.DisplayName(), st.FailedByCategory[t])
		}

		fmt.Println()
		fmt.Printf("Версия настроек: %d\n", st.SettingsVersion)
		fmt.Printf("Версия меню: %d\n", st.MenuVersion)
		return nil
	},
}

func online(v bool) string {
	if v {
		return "✅ есть"
	}
	return "❌ нет"
}
