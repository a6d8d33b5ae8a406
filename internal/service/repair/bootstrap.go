package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// BootstrapReport - итог построения агрегатов при запуске
type BootstrapReport struct {
	Restored int            `json:"restored"`
	Tenants  int            `json:"tenants"`
	Verified map[string]int `json:"verified"`
	FullRuns int            `json:"full_runs"`
}

// Bootstrap строит агрегаты при запуске: восстанавливает снимок (если есть),
// затем для каждого тенанта и класса выполняет инкрементальный ремонт с проверкой.
// При расхождении область перестраивается полностью. snap может быть nil.
// Области остаются отмеченными как перестраиваемые, пока их проверка не пройдёт;
// после ошибки непостроенные области так и читаются из источника.
func (e *Engine) Bootstrap(ctx context.Context, snap *aggregate.Snapshotter) (*BootstrapReport, error) {
	report := &BootstrapReport{Verified: make(map[string]int)}
	e.MarkUnbuilt()

	mode := ModeFull
	if snap != nil {
		restored, err := snap.Restore()
		if err != nil {
			e.log.Warnf("[Repair] Не удалось восстановить снимок: %v", err)
		}
		report.Restored = restored
		if restored > 0 {
			mode = ModeIncremental
		}
	}

	tenants, err := e.source.Tenants(ctx)
	if err != nil {
		return report, fmt.Errorf("list tenants: %w", err)
	}
	report.Tenants = len(tenants)
	e.log.Infof("[Repair] Построение агрегатов: тенантов %d, режим %s, из снимка %d", len(tenants), mode, report.Restored)

	// Отметки классов сужаются до отметок тенантов, которые снимает каждый Run
	for _, tenantID := range tenants {
		for _, class := range namespace.Classes() {
			scope := Scope{Class: class, TenantID: tenantID}
			e.health.MarkRebuilding(scope.Key(), scope.Matches)
		}
	}
	for _, class := range namespace.Classes() {
		e.health.ClearRebuilding(Scope{Class: class}.Key())
	}

	for _, tenantID := range tenants {
		for _, class := range namespace.Classes() {
			scope := Scope{Class: class, TenantID: tenantID}
			res, err := e.Run(ctx, Request{Scope: scope, Mode: mode, Restart: true})
			if err != nil && mode == ModeIncremental && errors.Is(err, apperrors.ErrRepairIncomplete) {
				e.log.Infof("[Repair] %s: снимок устарел, полная перестройка", scope)
				report.FullRuns++
				res, err = e.Run(ctx, Request{Scope: scope, Mode: ModeFull, Restart: true})
			}
			if err != nil {
				return report, fmt.Errorf("bootstrap %s: %w", scope, err)
			}
			report.Verified[string(class)] += res.VerifiedCount
		}
	}
	return report, nil
}
