package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yourusername/qbank-api/pkg/logger"
)

// PubSubProvider определяет интерфейс для провайдеров публикации/подписки
type PubSubProvider interface {
	// Publish публикует сообщение в указанный канал
	Publish(channel string, message []byte) error

	// Subscribe подписывается на указанный канал и возвращает канал для сообщений
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close закрывает все соединения и освобождает ресурсы
	Close() error
}

// NoOpPubSub реализует PubSubProvider для одиночного режима работы
type NoOpPubSub struct{}

// Publish ничего не делает в одиночном режиме
func (p *NoOpPubSub) Publish(channel string, message []byte) error {
	return nil
}

// Subscribe возвращает канал, который закрывается вместе с контекстом и никогда не получает сообщений
func (p *NoOpPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	msgCh := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(msgCh)
	}()
	return msgCh, nil
}

// Close реализует метод PubSubProvider.Close для NoOpPubSub
func (p *NoOpPubSub) Close() error {
	return nil
}

// RedisPubSub реализует PubSubProvider с использованием Redis
type RedisPubSub struct {
	client        redis.UniversalClient
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions sync.Map // channel -> *redis.PubSub
	mu            sync.Mutex
	log           *logger.Logger
}

// NewRedisPubSub создает новый Redis Pub/Sub провайдер поверх существующего клиента.
// Клиент не закрывается провайдером: им владеет вызывающий код.
func NewRedisPubSub(client redis.UniversalClient, log *logger.Logger) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil for RedisPubSub")
	}

	ctx, cancelCheck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCheck()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("provided redis client failed ping check: %w", err)
	}

	ctxPubSub, cancelPubSub := context.WithCancel(context.Background())
	return &RedisPubSub{
		client: client,
		ctx:    ctxPubSub,
		cancel: cancelPubSub,
		log:    logger.OrNop(log),
	}, nil
}

// Publish публикует сообщение в указанный канал
func (p *RedisPubSub) Publish(channel string, message []byte) error {
	cmd := p.client.Publish(p.ctx, channel, message)
	if err := cmd.Err(); err != nil {
		p.log.Errorf("[RedisPubSub] Ошибка публикации в канал '%s': %v", channel, err)
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	p.log.Debugf("[RedisPubSub] Сообщение опубликовано в '%s' (подписчиков: %d)", channel, cmd.Val())
	return nil
}

// Subscribe подписывается на указанный канал Redis
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subscriptions.Load(channel); ok {
		return nil, fmt.Errorf("already subscribed to channel %s", channel)
	}

	pubsub := p.client.Subscribe(p.ctx, channel)

	// Ждем подтверждения подписки
	if _, err := pubsub.Receive(p.ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to Redis channel %s: %w", channel, err)
	}

	p.subscriptions.Store(channel, pubsub)
	p.log.Infof("[RedisPubSub] Подписка на канал '%s' оформлена", channel)

	msgCh := make(chan []byte, 100)

	go func() {
		defer func() {
			p.subscriptions.Delete(channel)
			pubsub.Close()
			close(msgCh)
			p.log.Infof("[RedisPubSub] Подписка на канал '%s' закрыта", channel)
		}()

		redisCh := pubsub.Channel()
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case msgCh <- []byte(msg.Payload):
				case <-p.ctx.Done():
					return
				case <-ctx.Done():
					return
				}
			case <-p.ctx.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgCh, nil
}

// Close останавливает все подписки
func (p *RedisPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancel()

	var lastErr error
	p.subscriptions.Range(func(key, value interface{}) bool {
		if pubsub, ok := value.(*redis.PubSub); ok {
			if err := pubsub.Close(); err != nil {
				p.log.Warnf("[RedisPubSub] Ошибка закрытия подписки '%v': %v", key, err)
				lastErr = err
			}
		}
		return true
	})
	return lastErr
}
