package repair

import (
	"context"
	"errors"
	"sync"

	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// Scheduler - фоновая очередь ремонтов с устранением повторов.
// Область, уже стоящая в очереди, повторно не добавляется.
type Scheduler struct {
	engine *Engine
	queue  chan Scope
	log    *logger.Logger

	mu      sync.Mutex
	pending map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler создает планировщик с очередью заданного размера
func NewScheduler(engine *Engine, buffer int, log *logger.Logger) *Scheduler {
	if buffer <= 0 {
		buffer = 64
	}
	return &Scheduler{
		engine:  engine,
		queue:   make(chan Scope, buffer),
		log:     logger.OrNop(log),
		pending: make(map[string]bool),
	}
}

// Enqueue планирует полный ремонт одного пространства
func (s *Scheduler) Enqueue(ns namespace.Namespace) bool {
	scope, err := ScopeForNamespace(ns)
	if err != nil {
		s.log.Warnf("[RepairScheduler] Некорректное пространство %s: %v", ns, err)
		return false
	}
	return s.EnqueueScope(scope)
}

// EnqueueScope планирует полный ремонт области. Возвращает false, если область уже
// в очереди или очередь переполнена.
func (s *Scheduler) EnqueueScope(scope Scope) bool {
	key := scope.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] {
		return false
	}
	select {
	case s.queue <- scope:
		s.pending[key] = true
		s.log.Infof("[RepairScheduler] Ремонт %s поставлен в очередь", scope)
		return true
	default:
		s.log.Warnf("[RepairScheduler] Очередь переполнена, ремонт %s отложен", scope)
		return false
	}
}

// Pending возвращает число областей в очереди
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start запускает обработчик очереди
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case scope := <-s.queue:
				s.process(ctx, scope)
			}
		}
	}()
	s.log.Infof("[RepairScheduler] Запущен")
}

// Stop останавливает обработчик и ждёт завершения текущего ремонта
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Infof("[RepairScheduler] Остановлен")
}

func (s *Scheduler) process(ctx context.Context, scope Scope) {
	// Снимаем отметку до запуска: повреждение во время ремонта снова поставит область в очередь
	s.mu.Lock()
	delete(s.pending, scope.Key())
	s.mu.Unlock()

	res, err := s.engine.Run(ctx, Request{Scope: scope, Mode: ModeFull, Restart: true})
	switch {
	case err == nil:
		s.log.Infof("[RepairScheduler] Ремонт %s завершён, записей %d", scope, res.VerifiedCount)
	case errors.Is(err, apperrors.ErrRepairInProgress):
		s.log.Debugf("[RepairScheduler] Ремонт %s уже выполняется", scope)
	case errors.Is(err, context.Canceled):
		s.log.Infof("[RepairScheduler] Ремонт %s прерван", scope)
	default:
		s.log.Errorf("[RepairScheduler] Ремонт %s не удался: %v", scope, err)
	}
}
