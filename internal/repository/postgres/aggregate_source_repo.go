package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
)

// AggregateSourceRepo реализует repository.AggregateSourceRepository.
// Все запросы ограничены тенантом и узлами таксономии и опираются на индексы
// questions(tenant_id, theme_id|subtheme_id|group_id) и user_question_states(user_id, question_id).
type AggregateSourceRepo struct {
	db *gorm.DB
}

// NewAggregateSourceRepo создает новый репозиторий чтения источника
func NewAggregateSourceRepo(db *gorm.DB) *AggregateSourceRepo {
	return &AggregateSourceRepo{db: db}
}

// levelColumn возвращает колонку questions для уровня таксономии ("" для global)
func levelColumn(level entity.Level) (string, error) {
	switch level {
	case entity.LevelGlobal, "":
		return "", nil
	case entity.LevelTheme:
		return "theme_id", nil
	case entity.LevelSubtheme:
		return "subtheme_id", nil
	case entity.LevelGroup:
		return "group_id", nil
	}
	return "", fmt.Errorf("unknown taxonomy level %q", level)
}

// flagColumn возвращает булеву колонку user_question_states для статуса
func flagColumn(status entity.UserStatus) (string, error) {
	if !status.Valid() {
		return "", fmt.Errorf("unknown user status %q", status)
	}
	return status.Column(), nil
}

// ScanPage возвращает страницу квалифицирующих строк
func (r *AggregateSourceRepo) ScanPage(ctx context.Context, q repository.PageQuery) ([]repository.SourceRow, error) {
	var rows []repository.SourceRow

	if q.Status == "" {
		query := r.db.WithContext(ctx).
			Table("questions").
			Select("id AS row_id, id AS question_id, tenant_id, theme_id, subtheme_id, group_id").
			Where("id > ?", q.AfterID)
		if q.TenantID != 0 {
			query = query.Where("tenant_id = ?", q.TenantID)
		}
		err := query.Order("id").Limit(q.Limit).Scan(&rows).Error
		return rows, err
	}

	flag, err := flagColumn(q.Status)
	if err != nil {
		return nil, err
	}
	query := r.db.WithContext(ctx).
		Table("user_question_states AS s").
		Select("s.id AS row_id, s.question_id, q.tenant_id, q.theme_id, q.subtheme_id, q.group_id, s.user_id").
		Joins("JOIN questions AS q ON q.id = s.question_id").
		Where("s.id > ?", q.AfterID).
		Where(fmt.Sprintf("s.%s = ?", flag), true)
	if q.TenantID != 0 {
		query = query.Where("q.tenant_id = ?", q.TenantID)
	}
	err = query.Order("s.id").Limit(q.Limit).Scan(&rows).Error
	return rows, err
}

// CountGrouped пересчитывает ожидаемые размеры пространств класса
func (r *AggregateSourceRepo) CountGrouped(ctx context.Context, q repository.GroupQuery) ([]repository.GroupCount, error) {
	col, err := levelColumn(q.Level)
	if err != nil {
		return nil, err
	}

	var counts []repository.GroupCount
	var query *gorm.DB

	if q.Status == "" {
		query = r.db.WithContext(ctx).Table("questions AS q")
		if col == "" {
			query = query.Select("q.tenant_id, 0 AS node_id, COUNT(*) AS count").Group("q.tenant_id")
		} else {
			query = query.
				Select(fmt.Sprintf("q.tenant_id, q.%s AS node_id, COUNT(*) AS count", col)).
				Where(fmt.Sprintf("q.%s <> 0", col)).
				Group(fmt.Sprintf("q.tenant_id, q.%s", col))
		}
	} else {
		flag, err := flagColumn(q.Status)
		if err != nil {
			return nil, err
		}
		query = r.db.WithContext(ctx).
			Table("user_question_states AS s").
			Joins("JOIN questions AS q ON q.id = s.question_id").
			Where(fmt.Sprintf("s.%s = ?", flag), true)
		if col == "" {
			query = query.
				Select("q.tenant_id, s.user_id, 0 AS node_id, COUNT(*) AS count").
				Group("q.tenant_id, s.user_id")
		} else {
			query = query.
				Select(fmt.Sprintf("q.tenant_id, s.user_id, q.%s AS node_id, COUNT(*) AS count", col)).
				Where(fmt.Sprintf("q.%s <> 0", col)).
				Group(fmt.Sprintf("q.tenant_id, s.user_id, q.%s", col))
		}
	}

	if q.TenantID != 0 {
		query = query.Where("q.tenant_id = ?", q.TenantID)
	}
	err = query.Scan(&counts).Error
	return counts, err
}

// filtered строит запрос по вопросам фильтра
func (r *AggregateSourceRepo) filtered(ctx context.Context, f repository.SourceFilter) (*gorm.DB, error) {
	col, err := levelColumn(f.Level)
	if err != nil {
		return nil, err
	}
	query := r.db.WithContext(ctx).Table("questions AS q").Where("q.tenant_id = ?", f.TenantID)
	if col != "" && len(f.NodeIDs) > 0 {
		query = query.Where(fmt.Sprintf("q.%s IN ?", col), f.NodeIDs)
	}
	if f.Status != "" {
		flag, err := flagColumn(f.Status)
		if err != nil {
			return nil, err
		}
		query = query.
			Joins("JOIN user_question_states AS s ON s.question_id = q.id").
			Where("s.user_id = ?", f.UserID).
			Where(fmt.Sprintf("s.%s = ?", flag), true)
	}
	return query, nil
}

// Count считает квалифицирующие вопросы под узлами фильтра
func (r *AggregateSourceRepo) Count(ctx context.Context, f repository.SourceFilter) (int64, error) {
	query, err := r.filtered(ctx, f)
	if err != nil {
		return 0, err
	}
	var count int64
	err = query.Count(&count).Error
	return count, err
}

// ListIDs перечисляет id квалифицирующих вопросов
func (r *AggregateSourceRepo) ListIDs(ctx context.Context, f repository.SourceFilter) ([]uint64, error) {
	query, err := r.filtered(ctx, f)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	err = query.Order("q.id").Pluck("q.id", &ids).Error
	return ids, err
}

// Tenants возвращает тенантов, у которых есть вопросы
func (r *AggregateSourceRepo) Tenants(ctx context.Context) ([]uint, error) {
	var tenants []uint
	err := r.db.WithContext(ctx).
		Model(&entity.Question{}).
		Distinct("tenant_id").
		Order("tenant_id").
		Pluck("tenant_id", &tenants).Error
	return tenants, err
}
