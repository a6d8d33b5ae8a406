// Package sampler выбирает равномерно случайные различные вопросы из выборки.
package sampler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/internal/service/resolver"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// Mode - алгоритм выборки из агрегатов
type Mode string

const (
	// ModePermutation: ленивая разреженная перестановка Фишера–Йетса, O(k) без коллизий
	ModePermutation Mode = "permutation"
	// ModeRetry: случайные ранги с отбрасыванием повторов, не более 3k попыток
	ModeRetry Mode = "retry"
)

// Множитель попыток в режиме retry
const retryFactor = 3

// ParseMode разбирает режим ("" → permutation)
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModePermutation:
		return ModePermutation, nil
	case ModeRetry:
		return ModeRetry, nil
	}
	return "", fmt.Errorf("unknown sampler mode %q", s)
}

// Backend - источник кандидатов выборки
type Backend string

const (
	AggregateBacked Backend = "aggregate"
	SetBacked       Backend = "set"
)

// DrawResult - результат выборки. Exhausted означает, что кандидатов меньше, чем запрошено;
// это не ошибка, вызывающий код обрабатывает короткий результат.
type DrawResult struct {
	IDs       []uint64 `json:"ids"`
	Requested int      `json:"requested"`
	Available int      `json:"available"`
	Exhausted bool     `json:"exhausted"`
	Backend   Backend  `json:"backend"`
	Degraded  bool     `json:"degraded"`
}

// Sampler выбирает вопросы поверх резолвера
type Sampler struct {
	resolver *resolver.Resolver
	store    *aggregate.Store
	mode     Mode
	maxK     int
	log      *logger.Logger

	mu     sync.Mutex
	seeder *rand.Rand
}

// NewSampler создает сэмплер. maxK ограничивает размер одного запроса.
func NewSampler(r *resolver.Resolver, mode Mode, maxK int, log *logger.Logger) *Sampler {
	if mode == "" {
		mode = ModePermutation
	}
	return &Sampler{
		resolver: r,
		store:    r.Store(),
		mode:     mode,
		maxK:     maxK,
		log:      logger.OrNop(log),
		seeder:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithSeed делает последовательность выборок воспроизводимой
func (s *Sampler) WithSeed(seed uint64) *Sampler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeder = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return s
}

// rng возвращает отдельный генератор на одну выборку
func (s *Sampler) rng() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewPCG(s.seeder.Uint64(), s.seeder.Uint64()))
}

// Draw возвращает до k различных случайных вопросов выборки
func (s *Sampler) Draw(ctx context.Context, spec entity.SelectionSpec, k int) (*DrawResult, error) {
	if err := s.validateK(k); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return s.draw(ctx, spec, k, nil)
}

func (s *Sampler) validateK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive", apperrors.ErrValidation)
	}
	if s.maxK > 0 && k > s.maxK {
		return fmt.Errorf("%w: k must not exceed %d", apperrors.ErrValidation, s.maxK)
	}
	return nil
}

// draw выбирает k id, пропуская exclude (может быть nil)
func (s *Sampler) draw(ctx context.Context, spec entity.SelectionSpec, k int, exclude *roaring64.Bitmap) (*DrawResult, error) {
	plan, err := s.resolver.Plan(ctx, spec)
	if err != nil {
		return nil, err
	}

	res, ok, err := s.drawAggregate(ctx, plan, k, exclude)
	if err != nil {
		return nil, err
	}
	if !ok {
		res, err = s.drawSet(ctx, plan, k, exclude)
		if err != nil {
			return nil, err
		}
	}

	res.Requested = k
	res.Exhausted = len(res.IDs) < k
	aggregate.Draws.WithLabelValues(string(res.Backend)).Inc()
	aggregate.DrawSize.Observe(float64(len(res.IDs)))
	return res, nil
}

// pool - несколько непересекающихся пространств, пронумерованных сквозным рангом
type pool struct {
	namespaces []namespace.Namespace
	prefix     []int // prefix[i] - сумма размеров пространств до i
	total      int
}

// locate переводит сквозной ранг в (пространство, локальный ранг)
func (p *pool) locate(rank int) (namespace.Namespace, int) {
	i := sort.Search(len(p.prefix), func(i int) bool { return p.prefix[i] > rank }) - 1
	return p.namespaces[i], rank - p.prefix[i]
}

// aggregatePool собирает пул из пространств корней; ok=false, если нужен путь через множество
func (s *Sampler) aggregatePool(namespaces []namespace.Namespace) (*pool, bool) {
	p := &pool{}
	for _, ns := range namespaces {
		if !s.resolver.UseAggregate(ns) {
			return nil, false
		}
		count, err := s.store.Count(ns)
		if err != nil {
			s.resolver.ReportFailure(ns, err)
			return nil, false
		}
		p.namespaces = append(p.namespaces, ns)
		p.prefix = append(p.prefix, p.total)
		p.total += count
	}
	return p, true
}

// drawAggregate выбирает через агрегаты. ok=false - агрегаты недоступны, нужен путь через множество.
// Для unanswered путь через множество выбирается и тогда, когда отвеченных не меньше
// половины пула: обход рангов пропускал бы почти каждый вопрос.
func (s *Sampler) drawAggregate(ctx context.Context, plan *resolver.Plan, k int, exclude *roaring64.Bitmap) (*DrawResult, bool, error) {
	filter := plan.Spec.Filter
	var (
		answered      namespace.Namespace
		answeredCount int
	)
	if filter == entity.FilterUnanswered {
		filter = entity.FilterAll
		answered = namespace.User(plan.Spec.TenantID, plan.Spec.UserID, entity.StatusAnswered)
		if !s.resolver.UseAggregate(answered) {
			return nil, false, nil
		}
		n, err := s.store.Count(answered)
		if err != nil {
			s.resolver.ReportFailure(answered, err)
			return nil, false, nil
		}
		answeredCount = n
	}

	p, ok := s.aggregatePool(plan.RootNamespaces(filter))
	if !ok {
		return nil, false, nil
	}
	if answered != "" && answeredCount*2 >= p.total && p.total > 0 {
		return nil, false, nil
	}

	skip := func(id uint64) bool {
		if exclude != nil && exclude.Contains(id) {
			return true
		}
		return answered != "" && s.store.Contains(answered, id)
	}

	var (
		ids []uint64
		err error
	)
	rng := s.rng()
	if s.mode == ModeRetry {
		ids, err = s.retryDraw(rng, p, k, skip)
	} else {
		ids, err = s.permutationDraw(rng, p, k, skip)
	}
	if err != nil {
		// Дерево повреждено посреди выборки: отдаём выборку пути через множество
		return nil, false, nil
	}

	// Available - размер пула до исключений
	available := p.total
	if answered != "" {
		count, err := s.resolver.CountPlan(ctx, plan)
		if err != nil {
			return nil, false, err
		}
		available = count.Total
	}
	return &DrawResult{IDs: ids, Available: available, Backend: AggregateBacked}, true, nil
}

// resolve возвращает id по сквозному рангу; ok=false, если ранг вышел за пределы
// из-за параллельного удаления
func (s *Sampler) resolve(p *pool, rank int) (uint64, bool, error) {
	ns, local := p.locate(rank)
	id, ok, err := s.store.At(ns, local)
	if err != nil {
		s.resolver.ReportFailure(ns, err)
		return 0, false, err
	}
	return id, ok, nil
}

// permutationDraw обходит ленивую перестановку рангов [0, total): позиция i меняется
// местами со случайной позицией из [i, total). Хранятся только затронутые позиции.
func (s *Sampler) permutationDraw(rng *rand.Rand, p *pool, k int, skip func(uint64) bool) ([]uint64, error) {
	swapped := make(map[int]int)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}

	out := make([]uint64, 0, min(k, p.total))
	seen := make(map[uint64]struct{}, cap(out))
	for i := 0; i < p.total && len(out) < k; i++ {
		j := i + rng.IntN(p.total-i)
		vi, vj := at(i), at(j)
		swapped[i], swapped[j] = vj, vi

		id, ok, err := s.resolve(p, vj)
		if err != nil {
			return nil, err
		}
		if !ok || skip(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// retryDraw выбирает случайные ранги, отбрасывая повторы; не более 3k попыток
func (s *Sampler) retryDraw(rng *rand.Rand, p *pool, k int, skip func(uint64) bool) ([]uint64, error) {
	out := make([]uint64, 0, min(k, p.total))
	if p.total == 0 {
		return out, nil
	}
	seen := make(map[uint64]struct{}, cap(out))
	for attempt := 0; attempt < retryFactor*k && len(out) < k; attempt++ {
		id, ok, err := s.resolve(p, rng.IntN(p.total))
		if err != nil {
			return nil, err
		}
		if !ok || skip(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// drawSet материализует кандидатов и берёт первые k после перемешивания
func (s *Sampler) drawSet(ctx context.Context, plan *resolver.Plan, k int, exclude *roaring64.Bitmap) (*DrawResult, error) {
	candidates, degraded, err := s.resolver.CandidatesFor(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	available := int(candidates.GetCardinality())
	if exclude != nil {
		candidates.AndNot(exclude)
	}

	ids := candidates.ToArray()
	n := min(k, len(ids))
	rng := s.rng()
	// Частичный Фишер–Йетс: перемешиваются только первые n позиций
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}

	return &DrawResult{
		IDs:       ids[:n],
		Available: available,
		Backend:   SetBacked,
		Degraded:  degraded,
	}, nil
}
