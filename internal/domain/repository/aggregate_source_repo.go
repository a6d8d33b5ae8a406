package repository

import (
	"context"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// SourceFilter ограничивает сканирование источника узлами таксономии и, опционально, флагом пользователя
type SourceFilter struct {
	TenantID uint
	// Level - уровень NodeIDs; LevelGlobal означает весь тенант
	Level   entity.Level
	NodeIDs []uint
	// Если Status не пуст, учитываются только вопросы с этим флагом у UserID
	UserID uint
	Status entity.UserStatus
}

// PageQuery - страница keyset-пагинации для ремонта
type PageQuery struct {
	TenantID uint // 0 - все тенанты
	// Status == "" - страница вопросов; иначе страница состояний пользователей с этим флагом
	Status  entity.UserStatus
	AfterID uint
	Limit   int
}

// SourceRow - квалифицирующая запись источника
type SourceRow struct {
	RowID      uint // ключ курсора: id вопроса или id состояния
	QuestionID uint
	TenantID   uint
	ThemeID    uint
	SubthemeID uint
	GroupID    uint
	UserID     uint // 0 для строк вопросов
}

// Placement возвращает положение вопроса строки
func (r SourceRow) Placement() entity.Placement {
	return entity.Placement{TenantID: r.TenantID, ThemeID: r.ThemeID, SubthemeID: r.SubthemeID, GroupID: r.GroupID}
}

// GroupQuery - запрос ожидаемых размеров пространств одного класса
type GroupQuery struct {
	TenantID uint // 0 - все тенанты
	Status   entity.UserStatus
	Level    entity.Level
}

// GroupCount - ожидаемый размер одного пространства
type GroupCount struct {
	TenantID uint
	UserID   uint
	NodeID   uint
	Count    int64
}

// AggregateSourceRepository - чтение источника истины для ремонта и резервных сканирований
type AggregateSourceRepository interface {
	// ScanPage возвращает до Limit строк с RowID > AfterID в порядке возрастания RowID
	ScanPage(ctx context.Context, q PageQuery) ([]SourceRow, error)
	// CountGrouped пересчитывает размеры пространств класса на уровне Level
	CountGrouped(ctx context.Context, q GroupQuery) ([]GroupCount, error)
	// Count считает квалифицирующие вопросы под узлами фильтра (резервный путь подсчёта)
	Count(ctx context.Context, f SourceFilter) (int64, error)
	// ListIDs перечисляет id квалифицирующих вопросов под узлами фильтра
	ListIDs(ctx context.Context, f SourceFilter) ([]uint64, error)
	// Tenants возвращает тенантов, у которых есть вопросы
	Tenants(ctx context.Context) ([]uint, error)
}
