// Package feed publishes executed trades to an external stream for
// downstream indexers and market-data consumers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Trade is the published record of one fill.
type Trade struct {
	Symbol    string `json:"symbol"`
	PriceLots int64  `json:"price_lots"`
	BaseLots  int64  `json:"base_lots"`
	TakerSide string `json:"taker_side"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	OrderID   uint64 `json:"order_id"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Publisher fans executed trades out of the node. Publish must not
// block block execution for long; implementations buffer or drop.
type Publisher interface {
	Publish(ctx context.Context, t Trade) error
	Close() error
}

// Nop discards everything. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Trade) error { return nil }
func (Nop) Close() error                         { return nil }

// Kafka publishes trades to one topic, keyed by symbol so a partition
// preserves per-market order.
type Kafka struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
		log: log,
	}
}

func (k *Kafka) Publish(ctx context.Context, t Trade) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Symbol),
		Value: value,
	})
	if err != nil {
		k.log.Warn("trade_publish_failed", zap.String("symbol", t.Symbol), zap.Error(err))
		return fmt.Errorf("publish trade: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }
