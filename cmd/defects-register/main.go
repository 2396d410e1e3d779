// Точка входа реестра дефектов судов.
// Команды: serve (по умолчанию), migrate, reconcile, export.
// Конфигурация читается из переменных окружения DR_* и файла .env.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/defects-register/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Команда завершилась с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newRootCommand собирает дерево команд. Без подкоманды выполняется serve.
func newRootCommand() *cobra.Command {
	var envFile string

	serve := newServeCommand()

	cmd := &cobra.Command{
		Use:           "defects-register",
		Short:         "Реестр дефектов судов",
		Version:       config.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadEnvFile(envFile)
		},
		RunE: serve.RunE,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "путь к .env файлу (по умолчанию ./.env, если существует)")

	cmd.AddCommand(
		serve,
		newMigrateCommand(),
		newReconcileCommand(),
		newExportCommand(),
	)
	return cmd
}
