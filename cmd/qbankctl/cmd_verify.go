package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	pgRepo "github.com/yourusername/qbank-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/qbank-api/internal/repository/redis"
	"github.com/yourusername/qbank-api/internal/service/repair"
	"github.com/yourusername/qbank-api/pkg/database"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// verifyRow - итог проверки одного класса одного тенанта
type verifyRow struct {
	TenantID   uint
	Class      namespace.Class
	Verified   int
	Mismatches []repair.Mismatch
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), true)
	if err != nil {
		return err
	}
	size := pageSize
	if size <= 0 {
		size = cfg.Aggregate.RepairPageSize
	}

	rows, err := verifyTenants(ctx, pgRepo.NewAggregateSourceRepo(db), tenantIDs, size, cliLog)
	if err != nil {
		return err
	}
	if printVerify(cmd.OutOrStdout(), rows) > 0 {
		return apperrors.ErrRepairIncomplete
	}
	return nil
}

// verifyTenants строит агрегаты в частном хранилище и сверяет их с группированным пересчётом источника.
// Пустой список тенантов означает всех тенантов с вопросами.
func verifyTenants(ctx context.Context, source repository.AggregateSourceRepository, tenants []uint, size int, log *logger.Logger) ([]verifyRow, error) {
	if len(tenants) == 0 {
		var err error
		if tenants, err = source.Tenants(ctx); err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
	}

	store := aggregate.NewStore(log)
	engine := repair.NewEngine(store, aggregate.NewHealth(), source, nil, "qbankctl", size, 0, log)

	var rows []verifyRow
	for _, tenantID := range tenants {
		for _, class := range namespace.Classes() {
			res, err := engine.Run(ctx, repair.Request{
				Scope:   repair.Scope{Class: class, TenantID: tenantID},
				Mode:    repair.ModeFull,
				Restart: true,
			})
			if err != nil && !(errors.Is(err, apperrors.ErrRepairIncomplete) && res != nil) {
				return rows, fmt.Errorf("tenant %d class %s: %w", tenantID, class, err)
			}
			rows = append(rows, verifyRow{
				TenantID:   tenantID,
				Class:      class,
				Verified:   res.VerifiedCount,
				Mismatches: res.Mismatches,
			})
		}
	}
	return rows, nil
}

// printVerify печатает таблицу и возвращает число расхождений
func printVerify(out io.Writer, rows []verifyRow) int {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tCLASS\tVERIFIED\tMISMATCHES")
	total := 0
	for _, row := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", row.TenantID, row.Class, row.Verified, len(row.Mismatches))
		total += len(row.Mismatches)
	}
	w.Flush()

	for _, row := range rows {
		for _, m := range row.Mismatches {
			fmt.Fprintf(out, "mismatch %s: expected %d, actual %d\n", m.Namespace, m.Expected, m.Actual)
		}
	}
	return total
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	client, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()
	cache, err := redisRepo.NewCacheRepo(client)
	if err != nil {
		return err
	}

	store := aggregate.NewStore(cliLog)
	snap := aggregate.NewSnapshotter(store, cache, time.Duration(cfg.Aggregate.Snapshot.TTLHours)*time.Hour, "qbankctl", cliLog)
	restored, err := snap.Restore()
	if err != nil {
		return err
	}
	printSnapshot(cmd.OutOrStdout(), restored, store.Stats(false))
	return nil
}

func printSnapshot(out io.Writer, restored int, st aggregate.Stats) {
	if st.Namespaces == 0 {
		fmt.Fprintln(out, "no snapshot found")
		return
	}
	fmt.Fprintf(out, "namespaces: %d\nentries: %d (restored %d)\nmax height: %d\n", st.Namespaces, st.Entries, restored, st.MaxHeight)

	classes := make([]string, 0, len(st.PerClass))
	for class := range st.PerClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		fmt.Fprintf(out, "  %s: %d\n", class, st.PerClass[class])
	}
}
