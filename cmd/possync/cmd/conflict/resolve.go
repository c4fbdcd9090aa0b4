package conflict

import (
	"fmt"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
	domain "possync/internal/domain/conflict"
)

var strategy string

var ResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Разрешить конфликт",
	Long: `Разрешает конфликт выбранной стратегией:
  keep_local  оставить версию терминала
  keep_remote принять версию облака
  merge       объединить непересекающиеся изменения`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		s := domain.Strategy(strategy)
		if err := s.Validate(); err != nil {
			return fmt.Errorf("неизвестная стратегия %q", strategy)
		}

		app.CheckNow(cmd.Context())
		return output.Result(cmd, app.ResolveConflict(cmd.Context(), args[0], s))
	},
}

func init() {
	ResolveCmd.Flags().StringVarP(&strategy, "strategy", "s", string(domain.KeepLocal), "стратегия: keep_local, keep_remote, merge")
}
