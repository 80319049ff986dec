package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/IBM/sarama"
)

// EventHandler обрабатывает событие определённого типа
type EventHandler func(ctx context.Context, event *models.Event) error

// Consumer читает события из Kafka в составе consumer group
type Consumer struct {
	consumer sarama.ConsumerGroup
	log      *logger.Logger
	handlers map[models.EventType]EventHandler
	topics   []string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewConsumer создаёт consumer group, подписанную на топик акций
func NewConsumer(cfg *config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	c := newConsumer(group, log)
	if cfg.Topics.Offers != "" {
		c.topics = []string{cfg.Topics.Offers}
	}

	log.WithFields(map[string]interface{}{
		"group":  cfg.GroupID,
		"topics": c.topics,
	}).Info("Kafka consumer created")

	return c, nil
}

// NewTestConsumer создаёт Consumer поверх готовой группы (используется в тестах)
func NewTestConsumer(group sarama.ConsumerGroup, log *logger.Logger) *Consumer {
	return newConsumer(group, log)
}

func newConsumer(group sarama.ConsumerGroup, log *logger.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: group,
		log:      log,
		handlers: make(map[models.EventType]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler регистрирует обработчик для типа события
func (c *Consumer) RegisterHandler(eventType models.EventType, handler EventHandler) {
	c.handlers[eventType] = handler
}

// OfferChangeHandler получает разобранное событие offer.changed.
type OfferChangeHandler func(ctx context.Context, change models.OfferChangedData) error

// HandleOfferChanged регистрирует обработчик offer.changed с разбором полезной нагрузки.
// Событие без offer_id считается битым и до обработчика не доходит.
func (c *Consumer) HandleOfferChanged(handler OfferChangeHandler) {
	c.RegisterHandler(models.EventTypeOfferChanged, func(ctx context.Context, event *models.Event) error {
		var change models.OfferChangedData
		if len(event.Data) > 0 {
			if err := json.Unmarshal(event.Data, &change); err != nil {
				return fmt.Errorf("failed to decode offer change: %w", err)
			}
		}
		if change.OfferID == "" {
			return fmt.Errorf("offer change event %s has no offer_id", event.ID)
		}
		return handler(ctx, change)
	})
}

// Handler возвращает обработчик для типа события
func (c *Consumer) Handler(eventType models.EventType) EventHandler {
	return c.handlers[eventType]
}

// HandlerCount возвращает количество зарегистрированных обработчиков
func (c *Consumer) HandlerCount() int {
	return len(c.handlers)
}

// Start запускает чтение в фоне
func (c *Consumer) Start() error {
	if c.consumer == nil {
		return fmt.Errorf("consumer group is not initialized")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.log.WithError(err).Error("Kafka consumer error")
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			if err := c.consumer.Consume(c.ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || c.ctx.Err() != nil {
					return
				}
				c.log.WithError(err).Error("Kafka consume failed")
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	c.log.WithField("topics", c.topics).Info("Kafka consumer started")
	return nil
}

// Stop останавливает чтение и закрывает группу
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.consumer != nil {
		err = c.consumer.Close()
	}
	c.wg.Wait()
	c.log.Info("Kafka consumer stopped")
	return err
}

// Setup вызывается перед началом сессии
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается после завершения сессии
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.processMessage(msg); err != nil {
				c.log.WithError(err).WithFields(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Error("Failed to process message")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) error {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.log.WithField("event_type", event.Type).Debug("No handler for event type")
		return nil
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := handler(ctx, &event); err != nil {
		return fmt.Errorf("handler for %s failed: %w", event.Type, err)
	}
	return nil
}
