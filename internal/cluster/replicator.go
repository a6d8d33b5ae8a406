// Package cluster реплицирует применённые операции агрегатов между экземплярами API.
// Каждый экземпляр держит собственное хранилище в памяти; зафиксированные пакеты
// операций публикуются в канал Redis и применяются остальными экземплярами.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/config"
	"github.com/yourusername/qbank-api/internal/namespace"
	"github.com/yourusername/qbank-api/pkg/logger"
)

const messageTypeOps = "ops"

// Message - сообщение, передаваемое между экземплярами
type Message struct {
	MessageType string          `json:"type"`
	InstanceID  string          `json:"instance_id"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Applier применяет пакет операций (реализуется aggregate.Store)
type Applier interface {
	Apply(ops []aggregate.Op) (aggregate.ApplyResult, error)
}

// Replicator публикует локальные пакеты операций и применяет чужие
type Replicator struct {
	cfg         config.ClusterConfig
	provider    PubSubProvider
	applier     Applier
	onCorrupted func(ns namespace.Namespace)
	log         *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReplicator создает репликатор. Пустой InstanceID генерируется.
func NewReplicator(cfg config.ClusterConfig, provider PubSubProvider, applier Applier, log *logger.Logger) *Replicator {
	log = logger.OrNop(log)
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		log.Infof("[Replicator] Instance ID не задан, сгенерирован: %s", cfg.InstanceID)
	}
	if provider == nil {
		log.Infof("[Replicator] Провайдер Pub/Sub не предоставлен, используется NoOpPubSub")
		provider = &NoOpPubSub{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Replicator{
		cfg:      cfg,
		provider: provider,
		applier:  applier,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// InstanceID возвращает идентификатор экземпляра
func (r *Replicator) InstanceID() string {
	return r.cfg.InstanceID
}

// OnCorrupted задаёт обработчик повреждений, обнаруженных при применении чужих операций
func (r *Replicator) OnCorrupted(fn func(ns namespace.Namespace)) {
	r.onCorrupted = fn
}

// Start подписывается на канал операций
func (r *Replicator) Start() error {
	if !r.cfg.Enabled {
		r.log.Infof("[Replicator] Кластерный режим отключен, работаем в автономном режиме")
		return nil
	}

	msgCh, err := r.provider.Subscribe(r.ctx, r.cfg.Channel)
	if err != nil {
		return err
	}
	r.log.Infof("[Replicator] Запуск кластерного режима, ID экземпляра: %s, канал: %s", r.cfg.InstanceID, r.cfg.Channel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case data, ok := <-msgCh:
				if !ok {
					r.log.Warnf("[Replicator] Канал %s закрыт", r.cfg.Channel)
					return
				}
				r.handle(data)
			}
		}
	}()
	return nil
}

// Stop останавливает обработку сообщений
func (r *Replicator) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Publish отправляет пакет операций остальным экземплярам
func (r *Replicator) Publish(ops []aggregate.Op) error {
	if !r.cfg.Enabled || len(ops) == 0 {
		return nil
	}
	payload, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{
		MessageType: messageTypeOps,
		InstanceID:  r.cfg.InstanceID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return err
	}
	return r.provider.Publish(r.cfg.Channel, data)
}

func (r *Replicator) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warnf("[Replicator] Ошибка десериализации сообщения: %v", err)
		return
	}

	// Пропускаем сообщения от самого себя
	if msg.InstanceID == r.cfg.InstanceID {
		return
	}
	if msg.MessageType != messageTypeOps {
		r.log.Warnf("[Replicator] Неизвестный тип сообщения %q от %s", msg.MessageType, msg.InstanceID)
		return
	}

	var ops []aggregate.Op
	if err := json.Unmarshal(msg.Payload, &ops); err != nil {
		r.log.Warnf("[Replicator] Ошибка десериализации операций от %s: %v", msg.InstanceID, err)
		return
	}

	res, err := r.applier.Apply(ops)
	if err != nil {
		var cerr *aggregate.CorruptionError
		if errors.As(err, &cerr) {
			r.log.Warnf("[Replicator] Повреждение при применении операций от %s: %v", msg.InstanceID, err)
		}
		if r.onCorrupted != nil {
			for _, ns := range res.Corrupted {
				r.onCorrupted(ns)
			}
		}
		return
	}
	r.log.Debugf("[Replicator] Применено от %s: +%d -%d", msg.InstanceID, res.Inserted, res.Removed)
}
