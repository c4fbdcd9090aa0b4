package conflict

import (
	"github.com/spf13/cobra"
)

// ConflictCmd родительская команда конфликтов заказов.
var ConflictCmd = &cobra.Command{
	Use:     "conflicts",
	Aliases: []string{"conflict"},
	Short:   "Конфликты заказов",
	Long:    `Просмотр и разрешение конфликтов между заказами терминала и облака.`,
}

func init() {
	ConflictCmd.AddCommand(ListCmd)
	ConflictCmd.AddCommand(ResolveCmd)
}
