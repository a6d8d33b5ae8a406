package sampler

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// BatchItem - одна взвешенная выборка пакета
type BatchItem struct {
	Selection entity.SelectionSpec `json:"selection"`
	Weight    float64              `json:"weight"`
}

// BatchRequest - пакетная выборка: Total вопросов, распределённых по весам
type BatchRequest struct {
	Items []BatchItem `json:"items"`
	Total int         `json:"total"`
}

// BatchResult - результат пакетной выборки
type BatchResult struct {
	IDs       []uint64 `json:"ids"`
	Requested int      `json:"requested"`
	Quotas    []int    `json:"quotas"`
	// Drawn - сколько id дала каждая выборка пакета (с учётом добора)
	Drawn     []int `json:"drawn"`
	Exhausted bool  `json:"exhausted"`
	Degraded  bool  `json:"degraded"`
}

// Quotas распределяет total по весам методом наибольшего остатка.
// Сумма квот всегда равна total; при равных остатках выигрывает более ранний элемент.
func Quotas(weights []float64, total int) []int {
	quotas := make([]int, len(weights))
	if len(weights) == 0 || total <= 0 {
		return quotas
	}

	sum := 0.0
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		// Все веса нулевые - распределяем поровну
		weights = make([]float64, len(quotas))
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}

	type remainder struct {
		index int
		frac  float64
	}
	rems := make([]remainder, 0, len(weights))
	assigned := 0
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		exact := float64(total) * w / sum
		quotas[i] = int(math.Floor(exact))
		assigned += quotas[i]
		rems = append(rems, remainder{index: i, frac: exact - float64(quotas[i])})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < total; i++ {
		quotas[rems[i%len(rems)].index]++
		assigned++
	}
	return quotas
}

// DrawBatch выбирает Total вопросов из нескольких взвешенных выборок.
// Квоты выбираются параллельно, объединение очищается от повторов,
// недобор восполняется последовательным добором с исключением уже выбранных id.
// Если кандидатов меньше Total, возвращается максимум доступного.
func (s *Sampler) DrawBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", apperrors.ErrValidation)
	}
	if err := s.validateK(req.Total); err != nil {
		return nil, err
	}
	weights := make([]float64, len(req.Items))
	for i := range req.Items {
		if err := req.Items[i].Selection.Validate(); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", apperrors.ErrValidation, i, err)
		}
		if req.Items[i].Weight < 0 {
			return nil, fmt.Errorf("%w: item %d: weight must not be negative", apperrors.ErrValidation, i)
		}
		weights[i] = req.Items[i].Weight
	}

	res := &BatchResult{
		Requested: req.Total,
		Quotas:    Quotas(weights, req.Total),
		Drawn:     make([]int, len(req.Items)),
	}

	// 1. Квоты параллельно
	draws := make([]*DrawResult, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range req.Items {
		if res.Quotas[i] == 0 {
			continue
		}
		g.Go(func() error {
			d, err := s.draw(gctx, item.Selection, res.Quotas[i], nil)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			draws[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 2. Объединение без повторов
	selected := roaring64.New()
	for i, d := range draws {
		if d == nil {
			continue
		}
		res.Degraded = res.Degraded || d.Degraded
		for _, id := range d.IDs {
			if selected.CheckedAdd(id) {
				res.IDs = append(res.IDs, id)
				res.Drawn[i]++
			}
		}
	}

	// 3. Добор: выборки перекрываются или некоторые пулы меньше квоты
	for i, item := range req.Items {
		need := req.Total - len(res.IDs)
		if need <= 0 {
			break
		}
		d, err := s.draw(ctx, item.Selection, need, selected)
		if err != nil {
			return nil, fmt.Errorf("top-up item %d: %w", i, err)
		}
		res.Degraded = res.Degraded || d.Degraded
		for _, id := range d.IDs {
			if selected.CheckedAdd(id) {
				res.IDs = append(res.IDs, id)
				res.Drawn[i]++
			}
		}
	}

	if len(res.IDs) > req.Total {
		res.IDs = res.IDs[:req.Total]
	}
	res.Exhausted = len(res.IDs) < req.Total
	if res.Exhausted {
		s.log.Debugf("[Sampler] Пакет: запрошено %d, доступно %d", req.Total, len(res.IDs))
	}
	return res, nil
}
