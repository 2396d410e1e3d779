// commands.go — служебные команды: migrate, reconcile, export.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/defects-register/internal/database"
	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/view"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД и завершиться",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return database.Migrate(cfg, logger)
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Выполнить один проход очистки хранилища по очереди удаления",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.newReconciler().RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d removed=%d failed=%d pending=%d\n",
				result.Processed, result.Removed, result.Failed, result.Pending)
			if result.Failed > 0 {
				return fmt.Errorf("не удалось удалить %d объектов", result.Failed)
			}
			return nil
		},
	}
}

// exportFlags — фильтры и сортировка команды export, как в query string UI.
type exportFlags struct {
	vessels     []string
	from        string
	to          string
	search      string
	status      string
	criticality string
	sort        string
	dir         string
	out         string
}

// criteria проверяет флаги и возвращает фильтры и сортировку.
func (f *exportFlags) criteria() (filter.Criteria, view.SortSpec, error) {
	c := filter.Criteria{
		Vessels:     filter.VesselSelection(f.vessels),
		Range:       filter.DateRange{From: f.from, To: f.to},
		Search:      f.search,
		Status:      f.status,
		Criticality: f.criticality,
	}
	if err := c.Validate(); err != nil {
		return filter.Criteria{}, view.SortSpec{}, err
	}
	spec, err := view.ParseSortSpec(f.sort, f.dir)
	if err != nil {
		return filter.Criteria{}, view.SortSpec{}, err
	}
	return c, spec, nil
}

func newExportCommand() *cobra.Command {
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Выгрузить реестр в CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria, spec, err := flags.criteria()
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if flags.out != "" {
				f, err := os.Create(flags.out)
				if err != nil {
					return fmt.Errorf("создание %s: %w", flags.out, err)
				}
				defer f.Close()
				w = f
			}

			n, err := a.exports.Export(cmd.Context(), criteria, spec, w)
			if err != nil {
				return err
			}
			logger.Info("Экспорт завершён",
				slog.Int("records", n),
				slog.String("out", flags.out),
			)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringSliceVar(&flags.vessels, "vessel", nil, "id судна (можно повторять)")
	fs.StringVar(&flags.from, "from", "", "начало диапазона Date Reported (YYYY-MM-DD)")
	fs.StringVar(&flags.to, "to", "", "конец диапазона Date Reported (YYYY-MM-DD)")
	fs.StringVarP(&flags.search, "search", "q", "", "поиск по тексту")
	fs.StringVar(&flags.status, "status", "", "статус: OPEN, IN PROGRESS, CLOSED")
	fs.StringVar(&flags.criticality, "criticality", "", "критичность: High, Medium, Low")
	fs.StringVar(&flags.sort, "sort", "", "ключ сортировки (по умолчанию Date Reported)")
	fs.StringVar(&flags.dir, "dir", "", "направление сортировки: asc, desc")
	fs.StringVarP(&flags.out, "out", "o", "", "файл результата (по умолчанию stdout)")

	return cmd
}
