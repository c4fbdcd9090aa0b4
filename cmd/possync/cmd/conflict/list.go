package conflict

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
	domain "possync/internal/domain/conflict"
	"possync/internal/domain/order"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Открытые конфликты",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		list, err := app.ListOpenConflicts(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения конфликтов: %w", err)
		}

		if output.JSONRequested(cmd) {
			return output.JSON(list)
		}

		if len(list) == 0 {
			fmt.Println("✅ Открытых конфликтов нет")
			return nil
		}

		fmt.Printf("Открытых конфликтов: %d\n\n", len(list))
		for i, c := range list {
			fmt.Printf("%d. Заказ %s: %s\n", i+1, c.OrderID, c.Type)
			fmt.Printf("   ID: %s | Версии: локальная %d, облако %d | Создан: %s\n",
				c.ID, c.LocalVersion, c.RemoteVersion, output.Time(&c.CreatedAt))
			fmt.Printf("   Изменено локально: %s\n", fields(c.LocalFields))
			fmt.Printf("   Изменено в облаке: %s\n", fields(c.RemoteFields))
			if !domain.CanMerge(c) {
				fmt.Println("   Слияние недоступно")
			}
			fmt.Println()
		}
		return nil
	},
}

func fields(fs []order.Field) string {
	if len(fs) == 0 {
		return "-"
	}
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
