package routing

import (
	"fmt"

	"github.com/spf13/cobra"

	"possync/cmd/possync/cmd/output"
	"possync/cmd/possync/cmd/types"
	domain "possync/internal/domain/routing"
)

var RoutingCmd = &cobra.Command{
	Use:   "routing",
	Short: "Маршрут до облака",
	Long:  `Проверяет главный терминал филиала и показывает текущий режим маршрутизации.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		app.CheckNow(cmd.Context())
		state := app.RoutingStatus()
		if output.JSONRequested(cmd) {
			return output.JSON(state)
		}

		fmt.Println("=== Маршрутизация ===")
		fmt.Printf("Режим: %s\n", modeName(state.Mode))
		if state.Parent == nil {
			return nil
		}

		fmt.Printf("Главный терминал: %s\n", state.Parent.Address)
		reachable := "❌ недоступен"
		if state.IsParentReachable {
			reachable = "✅ доступен"
		}
		fmt.Printf("Доступность: %s\n", reachable)
		fmt.Printf("Ошибок подряд: %d, успехов подряд: %d\n", state.ConsecutiveFailures, state.ConsecutiveSuccesses)
		fmt.Printf("Последняя проверка: %s\n", output.Time(state.LastProbeAt))
		fmt.Printf("Последний успех: %s\n", output.Time(state.LastSuccessAt))
		if state.LastProbeError != "" {
			fmt.Printf("Ошибка проверки: %s\n", state.LastProbeError)
		}
		return nil
	},
}

func modeName(m domain.Mode) string {
	switch m {
	case domain.ModeMain:
		return "главный терминал"
	case domain.ModeViaParent:
		return "через главный терминал"
	case domain.ModeDirectCloud:
		return "напрямую в облако"
	default:
		return "неизвестен"
	}
}
