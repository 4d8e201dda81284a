/*
Package kafkapub publishes committed inventory changes to Kafka.

MESSAGE FORMAT:
  key:   product id (decimal string), so one product's events stay ordered
         within a partition
  value: JSON Event
  headers: event-type

Publishing happens after commit. A failed publish is returned to the
inventory notifier, which logs it; the change itself stands. Writes are
detached from the caller's context, so a client that disconnects after its
change committed does not drop the event, and bounded by PublishTimeout.
*/
package kafkapub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/inventory"
)

// DefaultPublishTimeout bounds one publish, retries included.
const DefaultPublishTimeout = 5 * time.Second

// ErrClosed is returned when publishing after Close.
var ErrClosed = fmt.Errorf("publisher closed")

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	// PublishTimeout bounds each OnChange call.
	PublishTimeout time.Duration

	writer messageWriter
	topic  string
	logger *zap.Logger
	closed atomic.Bool
}

var _ inventory.Listener = (*Publisher)(nil)

// New creates a synchronous publisher writing to topic on brokers.
func New(brokers []string, topic string, logger *zap.Logger) *Publisher {
	log := logger.Named("kafka")
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Sugar().Errorf("kafka writer: "+msg, args...)
		}),
	}
	return newWithWriter(w, topic, log)
}

func newWithWriter(w messageWriter, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		PublishTimeout: DefaultPublishTimeout,
		writer:         w,
		topic:          topic,
		logger:         logger,
	}
}

// Event is the wire representation of an inventory.ChangeEvent.
type Event struct {
	Type        string            `json:"type"`
	At          time.Time         `json:"at"`
	Product     ProductPayload    `json:"product"`
	Transaction *TransactionEvent `json:"transaction,omitempty"`
}

type ProductPayload struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    string `json:"price"`
}

type TransactionEvent struct {
	ID             int64  `json:"id"`
	Kind           string `json:"kind"`
	Quantity       int64  `json:"quantity"`
	Balance        int64  `json:"balance"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Encode converts ev to a Kafka message.
func Encode(ev inventory.ChangeEvent) (kafka.Message, error) {
	payload := Event{
		Type: string(ev.Type),
		At:   ev.At,
		Product: ProductPayload{
			ID:       int64(ev.Product.ID),
			Name:     ev.Product.Name,
			Quantity: ev.Product.Quantity,
			Price:    ev.Product.Price.String(),
		},
	}
	if tx := ev.Transaction; tx != nil {
		payload.Transaction = &TransactionEvent{
			ID:             int64(tx.ID),
			Kind:           string(tx.Kind),
			Quantity:       tx.Quantity,
			Balance:        tx.Balance,
			Reason:         tx.Reason,
			IdempotencyKey: tx.IdempotencyKey,
		}
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(int64(ev.Product.ID), 10)),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}

// OnChange publishes ev.
func (p *Publisher) OnChange(ctx context.Context, ev inventory.ChangeEvent) error {
	if p.closed.Load() {
		return ErrClosed
	}
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.PublishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", ev.Type, p.topic, err)
	}
	p.logger.Debug("event published",
		zap.String("type", string(ev.Type)),
		zap.Int64("product_id", int64(ev.Product.ID)))
	return nil
}

// Close flushes pending writes. Safe to call more than once.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}
