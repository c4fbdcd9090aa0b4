package financial

import (
	"github.com/spf13/cobra"
)

// FinancialCmd родительская команда очереди финансовых записей.
var FinancialCmd = &cobra.Command{
	Use:     "financial",
	Aliases: []string{"fin"},
	Short:   "Неотправленные финансовые записи",
	Long: `Просмотр и повтор отправки финансовых записей (заработок водителей,
выплаты персоналу, расходы смены), которые не удалось доставить в облако.`,
}

func init() {
	FinancialCmd.AddCommand(ListCmd)
	FinancialCmd.AddCommand(RetryCmd)
	FinancialCmd.AddCommand(RetryAllCmd)
	FinancialCmd.AddCommand(PurgeCmd)
}
