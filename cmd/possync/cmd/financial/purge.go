package financial

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
)

var assumeYes bool

var errNotConfirmed = errors.New("удаление не подтверждено")

var PurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Удалить запись без отправки",
	Long: `Удаляет запись из очереди. Запись больше не будет отправлена в облако,
поэтому команда требует подтверждения.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		if !assumeYes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("%w: используйте --yes", errNotConfirmed)
			}
			fmt.Printf("Удалить запись %s без отправки в облако? [y/N]: ", args[0])
			var answer string
			_, _ = fmt.Scanln(&answer)
			if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" && a != "д" && a != "да" {
				return errNotConfirmed
			}
		}

		return output.Result(cmd, app.PurgeFinancialItem(cmd.Context(), args[0]))
	},
}

func init() {
	PurgeCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "не спрашивать подтверждение")
}
