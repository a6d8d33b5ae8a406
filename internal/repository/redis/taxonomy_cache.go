package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// CachedTaxonomyRepo оборачивает TaxonomyRepository и кеширует связи (Lineage) в Redis.
// Родители узлов не меняются после создания, поэтому инвалидация не нужна;
// результат кешируется только если найдены все запрошенные узлы.
type CachedTaxonomyRepo struct {
	repository.TaxonomyRepository
	cache repository.CacheRepository
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedTaxonomyRepo создает кеширующий репозиторий таксономии
func NewCachedTaxonomyRepo(inner repository.TaxonomyRepository, cache repository.CacheRepository, ttl time.Duration, log *logger.Logger) *CachedTaxonomyRepo {
	return &CachedTaxonomyRepo{
		TaxonomyRepository: inner,
		cache:              cache,
		ttl:                ttl,
		log:                logger.OrNop(log),
	}
}

func lineageKey(tenantID uint, subthemeIDs, groupIDs []uint) string {
	return fmt.Sprintf("lineage:%d:s:%s:g:%s", tenantID, joinSorted(subthemeIDs), joinSorted(groupIDs))
}

func joinSorted(ids []uint) string {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

// Lineage возвращает связи из кеша или из базы
func (r *CachedTaxonomyRepo) Lineage(ctx context.Context, tenantID uint, subthemeIDs, groupIDs []uint) (*entity.Lineage, error) {
	if len(subthemeIDs) == 0 && len(groupIDs) == 0 {
		return entity.NewLineage(), nil
	}
	key := lineageKey(tenantID, subthemeIDs, groupIDs)

	cached := entity.NewLineage()
	err := r.cache.GetJSON(key, cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		// Кеш недоступен - идём в базу
		r.log.Warnf("[TaxonomyCache] Ошибка чтения кеша %s: %v", key, err)
	}

	lineage, err := r.TaxonomyRepository.Lineage(ctx, tenantID, subthemeIDs, groupIDs)
	if err != nil {
		return nil, err
	}

	if len(lineage.Subthemes) == len(uniq(subthemeIDs)) && len(lineage.Groups) == len(uniq(groupIDs)) {
		if err := r.cache.SetJSON(key, lineage, r.ttl); err != nil {
			r.log.Warnf("[TaxonomyCache] Ошибка записи кеша %s: %v", key, err)
		}
	}
	return lineage, nil
}

func uniq(ids []uint) map[uint]struct{} {
	out := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
