package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/yourusername/qbank-api/internal/domain/repository"
)

// UnitOfWork реализует repository.UnitOfWork поверх транзакций GORM
type UnitOfWork struct {
	db *gorm.DB
}

// NewUnitOfWork создает новый UnitOfWork
func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do выполняет fn в транзакции; репозитории внутри fn привязаны к tx
func (u *UnitOfWork) Do(ctx context.Context, fn func(repos repository.TxRepositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repository.TxRepositories{
			Questions:  NewQuestionRepo(tx),
			UserStates: NewUserStateRepo(tx),
			Taxonomy:   NewTaxonomyRepo(tx),
		})
	})
}
