package financial

import (
	"fmt"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
)

var RetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Повторить отправку одной записи",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		res := app.RetryFinancialItem(cmd.Context(), args[0])
		if !output.JSONRequested(cmd) && res.Attempts > 0 {
			fmt.Printf("Попыток: %d\n", res.Attempts)
		}
		return output.Result(cmd, res.Result)
	},
}

var RetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Повторить отправку всех записей",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		report, res := app.RetryAllFinancialItems(cmd.Context())
		if output.JSONRequested(cmd) {
			if err := output.JSON(report); err != nil {
				return err
			}
		} else {
			fmt.Printf("Всего: %d, доставлено: %d, ошибок: %d\n", report.Total, report.Succeeded, report.Failed)
			for _, it := range report.Items {
				if !it.Result.Success {
					fmt.Printf("  • %s: [%s] %s\n", it.ItemID, it.Result.Kind, output.Truncate(it.Result.Error, 60))
				}
			}
		}

		if !res.Success {
			return fmt.Errorf("доставлены не все записи: %s", res.Message)
		}
		return nil
	},
}
