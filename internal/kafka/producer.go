package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// eventSource проставляется в поле Source всех событий сервиса.
const eventSource = "restaurant-pricing"

// Producer публикует события акций, заказов и корзин
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создаёт синхронного продюсера Kafka
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer created")

	topics := cfg.Topics
	return &Producer{producer: producer, log: log, topics: &topics}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishOfferChanged сообщает об изменении акции (каталог нужно перечитать)
func (p *Producer) PublishOfferChanged(offerID, code string, action models.OfferChangeAction) error {
	if !p.enabled() {
		return nil
	}
	event, err := newEvent(models.EventTypeOfferChanged, models.OfferChangedData{
		OfferID: offerID,
		Code:    code,
		Action:  action,
	})
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Offers, offerID, event)
}

// PublishOrderPlaced сообщает об оформленном заказе
func (p *Producer) PublishOrderPlaced(order *models.Order) error {
	if !p.enabled() {
		return nil
	}
	codes := make([]string, 0, len(order.Offers))
	for _, o := range order.Offers {
		codes = append(codes, o.Code)
	}
	event, err := newEvent(models.EventTypeOrderPlaced, models.OrderPlacedData{
		OrderID:  order.ID,
		Subtotal: order.Subtotal,
		Discount: order.DiscountAmount,
		Total:    order.TotalAmount,
		Offers:   codes,
	})
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Orders, order.ID.String(), event)
}

// PublishCartUpdated сообщает о пересчитанной корзине
func (p *Producer) PublishCartUpdated(cartID uuid.UUID, itemCount int, subtotal, total decimal.Decimal) error {
	if !p.enabled() {
		return nil
	}
	event, err := newEvent(models.EventTypeCartUpdated, models.CartUpdatedData{
		CartID:    cartID,
		ItemCount: itemCount,
		Subtotal:  subtotal,
		Total:     total,
	})
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Carts, cartID.String(), event)
}

// enabled сообщает, подключён ли продюсер; без Kafka публикация молча пропускается.
func (p *Producer) enabled() bool {
	return p != nil && p.producer != nil && p.topics != nil
}

func newEvent(eventType models.EventType, data interface{}) (models.Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return models.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    eventSource,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}, nil
}

// publishEvent отправляет событие; key определяет партицию (события одной сущности идут по порядку)
func (p *Producer) publishEvent(topic, key string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.WithError(err).WithFields(map[string]interface{}{
			"topic":      topic,
			"event_type": event.Type,
		}).Error("Failed to publish event")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"topic":      topic,
		"event_id":   event.ID,
		"event_type": event.Type,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Event published")

	return nil
}
