package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"

	"possync/cmd/possync/cmd/conflict"
	"possync/cmd/possync/cmd/financial"
	"possync/cmd/possync/cmd/routing"
	"possync/cmd/possync/cmd/status"
	synccmd "possync/cmd/possync/cmd/sync"
	"possync/cmd/possync/cmd/types"
	"possync/internal/app/terminal"
	"possync/internal/app/terminal/config"
	"possync/internal/utils/logger"
)

var (
	cfgFile    string
	cfg        *config.Config
	log        *slog.Logger
	app        *terminal.App
	debug      bool
	jsonOutput bool
	cloudURL   string
)

var rootCmd = &cobra.Command{
	Use:   "possync",
	Short: "possync - синхронизация POS терминала с облаком",
	Long: `possync это слой синхронизации POS терминала.

Отслеживает статус синхронизации, хранит неотправленные финансовые
записи, помогает разрешать конфликты заказов и выбирает маршрут
до облака: напрямую или через главный терминал филиала.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	err := rootCmd.Execute()
	if stopErr := stopApp(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = loadConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	if cloudURL != "" {
		cfg.CloudAddress = cloudURL
	}

	if cmd == runCmd {
		log, logCloser = logger.NewWithFile(cfg.Env, cfg.LogFile)
	} else {
		log = logger.NewCLI(debug)
	}

	app, err = terminal.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, types.AppKey, app))
	return nil
}

func stopApp() error {
	if app == nil {
		return nil
	}
	err := app.Stop()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	return err
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		viper.AddConfigPath(filepath.Join(home, ".possync"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// без файла работаем на переменных окружения
	}

	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный вывод")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&cloudURL, "cloud", "", "адрес облака")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(status.StatusCmd)
	rootCmd.AddCommand(synccmd.SyncCmd)
	rootCmd.AddCommand(routing.RoutingCmd)
	rootCmd.AddCommand(financial.FinancialCmd)
	rootCmd.AddCommand(conflict.ConflictCmd)
}
