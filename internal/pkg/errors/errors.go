package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния (например, повторный запуск уже идущего ремонта).
	ErrConflict = errors.New("resource state conflict")
)

// Ошибки слоя агрегатов
var (
	// ErrAggregateCorrupted означает, что дерево пространства имён не прошло внутреннюю проверку
	// (размер поддерева не сходится, висячая ссылка). Наружу не отдаётся: вызывающий код
	// переключается на сканирование источника и планирует ремонт.
	ErrAggregateCorrupted = errors.New("aggregate corrupted")

	// ErrRepairIncomplete означает расхождение на этапе проверки после полного прохода ремонта.
	ErrRepairIncomplete = errors.New("repair verification mismatch")

	// ErrRepairInProgress возвращается, если ремонт той же области уже выполняется.
	ErrRepairInProgress = errors.New("repair already in progress")
)
