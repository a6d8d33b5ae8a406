package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// Strategy - способ подсчёта одного узла
type Strategy string

const (
	AggregateBacked Strategy = "aggregate"
	ScanBacked      Strategy = "scan"
)

// Policy определяет выбор стратегии
type Policy string

const (
	// PolicyAuto: агрегат, если пространство здорово, иначе сканирование
	PolicyAuto Policy = "auto"
	// PolicyAggregate: всегда агрегат (при ошибке всё равно откат на сканирование)
	PolicyAggregate Policy = "aggregate"
	// PolicyScan: всегда сканирование источника
	PolicyScan Policy = "scan"
)

// ParsePolicy разбирает политику ("" → auto)
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAuto:
		return PolicyAuto, nil
	case PolicyAggregate, PolicyScan:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown strategy policy %q", s)
}

// RepairScheduler принимает пространства, которым нужен ремонт
type RepairScheduler interface {
	Enqueue(ns namespace.Namespace) bool
}

// choose выбирает стратегию для пространства
func (r *Resolver) choose(ns namespace.Namespace) Strategy {
	switch r.policy {
	case PolicyScan:
		return ScanBacked
	case PolicyAggregate:
		return AggregateBacked
	}
	if r.health.IsHealthy(ns) {
		return AggregateBacked
	}
	return ScanBacked
}

// sourceFilter строит фильтр сканирования для узла и статуса
func sourceFilter(spec entity.SelectionSpec, n Node, status entity.UserStatus) repository.SourceFilter {
	f := repository.SourceFilter{
		TenantID: spec.TenantID,
		Level:    n.Level,
		Status:   status,
	}
	if n.Level != entity.LevelGlobal {
		f.NodeIDs = []uint{n.ID}
	}
	if status != "" {
		f.UserID = spec.UserID
	}
	return f
}

// degrade фиксирует отказ агрегата: помечает пространство, планирует ремонт, пишет предупреждение
func (r *Resolver) degrade(ns namespace.Namespace, err error) {
	aggregate.FallbackScans.WithLabelValues("corrupted").Inc()
	if errors.Is(err, apperrors.ErrAggregateCorrupted) {
		if r.health.MarkCorrupted(ns) {
			r.log.Warnf("[Resolver] Агрегат %s повреждён, переход на сканирование: %v", ns, err)
		}
		if r.scheduler != nil {
			r.scheduler.Enqueue(ns)
		}
		return
	}
	r.log.Warnf("[Resolver] Агрегат %s недоступен, переход на сканирование: %v", ns, err)
}

// countNode считает узел для фильтра с конкретным статусом (или без него).
// Возвращает счётчик, использованную стратегию и признак деградации.
func (r *Resolver) countNode(ctx context.Context, plan *Plan, n Node, filter entity.SelectionFilter) (int, Strategy, bool, error) {
	ns := plan.Namespace(n, filter)
	status, _ := filter.UserStatus()

	if r.choose(ns) == AggregateBacked {
		count, err := r.store.Count(ns)
		if err == nil {
			return count, AggregateBacked, false, nil
		}
		r.degrade(ns, err)
	} else if r.policy != PolicyScan {
		aggregate.FallbackScans.WithLabelValues("unhealthy").Inc()
	}

	count, err := r.source.Count(ctx, sourceFilter(plan.Spec, n, status))
	if err != nil {
		return 0, ScanBacked, true, fmt.Errorf("scan %s: %w", ns, err)
	}
	return int(count), ScanBacked, r.policy != PolicyScan, nil
}

// membersNode перечисляет id узла для фильтра с конкретным статусом (или без него)
func (r *Resolver) membersNode(ctx context.Context, plan *Plan, n Node, filter entity.SelectionFilter) ([]uint64, Strategy, bool, error) {
	ns := plan.Namespace(n, filter)
	status, _ := filter.UserStatus()

	if r.choose(ns) == AggregateBacked {
		// Count проверяет согласованность дерева перед перечислением
		_, err := r.store.Count(ns)
		if err == nil {
			return r.store.Members(ns), AggregateBacked, false, nil
		}
		r.degrade(ns, err)
	} else if r.policy != PolicyScan {
		aggregate.FallbackScans.WithLabelValues("unhealthy").Inc()
	}

	ids, err := r.source.ListIDs(ctx, sourceFilter(plan.Spec, n, status))
	if err != nil {
		return nil, ScanBacked, true, fmt.Errorf("scan %s: %w", ns, err)
	}
	return ids, ScanBacked, r.policy != PolicyScan, nil
}
