package main

import (
	"github.com/spf13/cobra"

	"github.com/yourusername/qbank-api/internal/config"
	"github.com/yourusername/qbank-api/pkg/logger"
)

var (
	configPath    string
	migrationsDir string
	tenantIDs     []uint
	pageSize      int

	cfg    *config.Config
	cliLog *logger.Logger

	rootCmd = &cobra.Command{
		Use:   "qbankctl",
		Short: "Операторские команды банка вопросов",
		Long: `qbankctl управляет схемой базы данных и проверяет агрегаты
банка вопросов без запуска API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			cliLog, err = logger.New(cfg.Log.Mode)
			return err
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Управление миграциями схемы",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Применить все новые миграции",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	}
	migrateForceCmd = &cobra.Command{
		Use:   "force [version]",
		Short: "Принудительно выставить версию схемы и снять флаг dirty",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateForce,
	}
	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Показать текущую версию схемы",
		Args:  cobra.NoArgs,
		RunE:  runMigrateVersion,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Перестроить агрегаты из базы в памяти и сверить размеры пространств",
		Args:  cobra.NoArgs,
		RunE:  runVerify,
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Показать содержимое последнего снимка агрегатов в Redis",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotShow,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "путь к файлу конфигурации")

	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "каталог с SQL-миграциями")
	migrateCmd.AddCommand(migrateUpCmd, migrateForceCmd, migrateVersionCmd)

	verifyCmd.Flags().UintSliceVar(&tenantIDs, "tenant", nil, "тенанты для проверки (по умолчанию все)")
	verifyCmd.Flags().IntVar(&pageSize, "page-size", 0, "размер страницы сканирования (по умолчанию из конфигурации)")

	rootCmd.AddCommand(migrateCmd, verifyCmd, snapshotCmd)
}
