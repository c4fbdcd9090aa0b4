package financial

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
	domain "possync/internal/domain/financial"
)

var limit int

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список неотправленных записей",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		items, err := app.ListFailedFinancialItems(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("ошибка получения списка записей: %w", err)
		}

		if output.JSONRequested(cmd) {
			return output.JSON(items)
		}
		return printItemsTable(items)
	},
}

func printItemsTable(items []domain.Item) error {
	if len(items) == 0 {
		fmt.Println("✅ Неотправленных записей нет")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tТаблица\tЗапись\tОперация\tПопыток\tСледующий повтор\tОшибка\t\n")
	fmt.Fprintf(w, "---\t---\t---\t---\t---\t---\t---\t\n")

	for _, it := range items {
		next := output.Time(it.NextAttemptAt)
		if it.Flagged() {
			next = "вручную"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			it.ID,
			it.TableName.DisplayName(),
			it.RecordID,
			it.Operation,
			it.Attempts,
			next,
			output.Truncate(it.ErrorMessage, 40),
		)
	}

	w.Flush()
	fmt.Printf("\nВсего записей: %d\n", len(items))
	return nil
}

func init() {
	ListCmd.Flags().IntVar(&limit, "limit", domain.DefaultListLimit, "ограничение количества записей")
}
