// Package resolver разрешает иерархические выборки: строит план по таксономии,
// считает узлы через агрегаты (или сканированием источника) и раскладывает
// итог по узлам по правилу «побеждает самый специфичный выбранный узел».
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// Параллелизм подсчёта узлов одной выборки
const nodeConcurrency = 4

// NodeCount - вклад одного выбранного узла.
// Raw - все квалифицирующие вопросы под узлом, Attributed - за вычетом выбранных потомков.
type NodeCount struct {
	Level      entity.Level `json:"level"`
	ID         uint         `json:"id"`
	Raw        int          `json:"raw"`
	Attributed int          `json:"attributed"`
	Strategy   Strategy     `json:"strategy"`
}

// CountResult - итог подсчёта выборки
type CountResult struct {
	TenantID  uint                   `json:"tenant_id"`
	UserID    uint                   `json:"user_id,omitempty"`
	Filter    entity.SelectionFilter `json:"filter"`
	Total     int                    `json:"total"`
	Breakdown []NodeCount            `json:"breakdown"`
	// Degraded: хотя бы один узел посчитан сканированием из-за нездорового агрегата
	Degraded bool `json:"degraded"`
}

// Resolver считает выборки поверх хранилища агрегатов
type Resolver struct {
	store     *aggregate.Store
	health    *aggregate.Health
	source    repository.AggregateSourceRepository
	taxonomy  repository.TaxonomyRepository
	scheduler RepairScheduler
	policy    Policy
	log       *logger.Logger
}

// NewResolver создает новый резолвер. scheduler может быть nil.
func NewResolver(
	store *aggregate.Store,
	health *aggregate.Health,
	source repository.AggregateSourceRepository,
	taxonomy repository.TaxonomyRepository,
	scheduler RepairScheduler,
	policy Policy,
	log *logger.Logger,
) *Resolver {
	if policy == "" {
		policy = PolicyAuto
	}
	return &Resolver{
		store:     store,
		health:    health,
		source:    source,
		taxonomy:  taxonomy,
		scheduler: scheduler,
		policy:    policy,
		log:       logger.OrNop(log),
	}
}

// SetScheduler подключает планировщик ремонта после создания
func (r *Resolver) SetScheduler(s RepairScheduler) {
	r.scheduler = s
}

// Store возвращает хранилище агрегатов
func (r *Resolver) Store() *aggregate.Store {
	return r.store
}

// UseAggregate сообщает, следует ли читать пространство из агрегата
func (r *Resolver) UseAggregate(ns namespace.Namespace) bool {
	return r.choose(ns) == AggregateBacked
}

// ReportFailure фиксирует ошибку чтения агрегата, обнаруженную вне резолвера
func (r *Resolver) ReportFailure(ns namespace.Namespace, err error) {
	r.degrade(ns, err)
}

// Count считает выборку и раскладывает итог по выбранным узлам
func (r *Resolver) Count(ctx context.Context, spec entity.SelectionSpec) (*CountResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	start := time.Now()
	defer func() {
		aggregate.ResolveDuration.WithLabelValues(string(spec.Filter)).Observe(time.Since(start).Seconds())
	}()

	plan, err := r.Plan(ctx, spec)
	if err != nil {
		return nil, err
	}
	return r.CountPlan(ctx, plan)
}

// CountPlan считает уже построенный план
func (r *Resolver) CountPlan(ctx context.Context, plan *Plan) (*CountResult, error) {
	if plan.Spec.Filter == entity.FilterUnanswered {
		return r.countUnanswered(ctx, plan)
	}
	return r.countFilter(ctx, plan, plan.Spec.Filter)
}

// countFilter считает выборку для all или одного пользовательского статуса
func (r *Resolver) countFilter(ctx context.Context, plan *Plan, filter entity.SelectionFilter) (*CountResult, error) {
	raw := make([]int, len(plan.Nodes))
	strategies := make([]Strategy, len(plan.Nodes))
	degraded := make([]bool, len(plan.Nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nodeConcurrency)
	for i, n := range plan.Nodes {
		g.Go(func() error {
			count, strategy, deg, err := r.countNode(gctx, plan, n, filter)
			if err != nil {
				return err
			}
			raw[i], strategies[i], degraded[i] = count, strategy, deg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &CountResult{
		TenantID:  plan.Spec.TenantID,
		UserID:    plan.Spec.UserID,
		Filter:    filter,
		Breakdown: attribute(plan, raw, strategies),
	}
	for _, d := range degraded {
		res.Degraded = res.Degraded || d
	}

	_, isUser := filter.UserStatus()
	if isUser && len(plan.Roots) > 1 {
		// Несколько корней пользовательского фильтра: перечисляем и объединяем без повторов
		union, deg, err := r.union(ctx, plan, filter)
		if err != nil {
			return nil, err
		}
		res.Total = int(union.GetCardinality())
		res.Degraded = res.Degraded || deg
		return res, nil
	}

	for _, nc := range res.Breakdown {
		res.Total += nc.Attributed
	}
	return res, nil
}

// countUnanswered считает unanswered как all − answered по той же выборке
func (r *Resolver) countUnanswered(ctx context.Context, plan *Plan) (*CountResult, error) {
	all, err := r.countFilter(ctx, plan, entity.FilterAll)
	if err != nil {
		return nil, err
	}
	answered, err := r.countFilter(ctx, plan, entity.FilterAnswered)
	if err != nil {
		return nil, err
	}

	res := &CountResult{
		TenantID: plan.Spec.TenantID,
		UserID:   plan.Spec.UserID,
		Filter:   entity.FilterUnanswered,
		Total:    clamp(all.Total - answered.Total),
		Degraded: all.Degraded || answered.Degraded,
	}
	for i, nc := range all.Breakdown {
		other := answered.Breakdown[i]
		strategy := nc.Strategy
		if other.Strategy == ScanBacked {
			strategy = ScanBacked
		}
		res.Breakdown = append(res.Breakdown, NodeCount{
			Level:      nc.Level,
			ID:         nc.ID,
			Raw:        clamp(nc.Raw - other.Raw),
			Attributed: clamp(nc.Attributed - other.Attributed),
			Strategy:   strategy,
		})
	}
	return res, nil
}

// attribute вычитает из каждого узла сырые счётчики его выбранных потомков
func attribute(plan *Plan, raw []int, strategies []Strategy) []NodeCount {
	index := make(map[Node]int, len(plan.Nodes))
	for i, n := range plan.Nodes {
		index[n] = i
	}
	out := make([]NodeCount, len(plan.Nodes))
	for i, n := range plan.Nodes {
		attributed := raw[i]
		for _, c := range plan.Children(n) {
			attributed -= raw[index[c]]
		}
		out[i] = NodeCount{
			Level:      n.Level,
			ID:         n.ID,
			Raw:        raw[i],
			Attributed: clamp(attributed),
			Strategy:   strategies[i],
		}
	}
	return out
}

// Candidates возвращает множество id выборки и признак деградации
func (r *Resolver) Candidates(ctx context.Context, spec entity.SelectionSpec) (*roaring64.Bitmap, bool, error) {
	if err := spec.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	plan, err := r.Plan(ctx, spec)
	if err != nil {
		return nil, false, err
	}
	return r.CandidatesFor(ctx, plan)
}

// CandidatesFor возвращает множество id уже построенного плана (для выборки через множество)
func (r *Resolver) CandidatesFor(ctx context.Context, plan *Plan) (*roaring64.Bitmap, bool, error) {
	if plan.Spec.Filter != entity.FilterUnanswered {
		return r.union(ctx, plan, plan.Spec.Filter)
	}
	all, deg, err := r.union(ctx, plan, entity.FilterAll)
	if err != nil {
		return nil, false, err
	}
	answered, deg2, err := r.union(ctx, plan, entity.FilterAnswered)
	if err != nil {
		return nil, false, err
	}
	all.AndNot(answered)
	return all, deg || deg2, nil
}

// union объединяет id всех корней плана для фильтра
func (r *Resolver) union(ctx context.Context, plan *Plan, filter entity.SelectionFilter) (*roaring64.Bitmap, bool, error) {
	out := roaring64.New()
	degraded := false
	for _, root := range plan.Roots {
		ids, _, deg, err := r.membersNode(ctx, plan, root, filter)
		if err != nil {
			return nil, false, err
		}
		out.AddMany(ids)
		degraded = degraded || deg
	}
	return out, degraded, nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
