package repository

import "context"

// TxRepositories - репозитории, привязанные к одной транзакции
type TxRepositories struct {
	Questions  QuestionRepository
	UserStates UserStateRepository
	Taxonomy   TaxonomyRepository
}

// UnitOfWork выполняет fn в одной транзакции источника.
// Ошибка из fn откатывает транзакцию.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(repos TxRepositories) error) error
}
