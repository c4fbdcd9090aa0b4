// Package output общие функции вывода команд.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"possync/internal/domain/status"
	"possync/internal/domain/sync"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	ok   = color.New(color.FgGreen).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

// JSONRequested включен ли глобальный флаг --json.
func JSONRequested(cmd *cobra.Command) bool {
	on, err := cmd.Flags().GetBool("json")
	return err == nil && on
}

// JSON печатает v с отступами.
func JSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Result печатает итог операции и возвращает ошибку для неуспешного итога,
// чтобы команда завершилась с ненулевым кодом.
func Result(cmd *cobra.Command, res sync.Result) error {
	if JSONRequested(cmd) {
		if err := JSON(res); err != nil {
			return err
		}
	} else if res.Success {
		fmt.Printf("%s %s\n", ok("✅"), res.Message)
	} else {
		fmt.Printf("%s [%s] %s\n", bad("❌"), res.Kind, res.Error)
		if res.Message != "" {
			fmt.Printf("   %s\n", res.Message)
		}
	}

	if !res.Success {
		return fmt.Errorf("операция не выполнена: %s", res.Kind)
	}
	return nil
}

// State цветная подпись состояния синхронизации.
func State(s status.State) string {
	switch s {
	case status.StateSynced:
		return ok("синхронизирован")
	case status.StatePending:
		return warn("ожидает отправки")
	case status.StateSyncing:
		return warn("синхронизация")
	case status.StateError:
		return bad("ошибка")
	case status.StateOffline:
		return bad("нет сети")
	default:
		return string(s)
	}
}

// Time форматирует момент времени или прочерк.
func Time(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// Truncate обрезает строку до length символов.
func Truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
