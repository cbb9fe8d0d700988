// Package kafkaclient picks the Kafka publisher named by kafka.client.
package kafkaclient

import (
	"fmt"

	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/transport"
	"orderflow/internal/transport/confluent"
)

type Publisher interface {
	transport.Publisher
	Close() error
}

// NewPublisher returns the segmentio publisher unless cfg.Client is "confluent".
func NewPublisher(cfg config.KafkaConfig, l *zap.Logger) (Publisher, error) {
	switch cfg.Client {
	case "", "segmentio":
		return transport.NewKafkaPublisher(cfg.Brokers, l), nil
	case "confluent":
		p, err := confluent.NewPublisher(cfg.Brokers, l)
		if err != nil {
			return nil, fmt.Errorf("confluent publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown kafka client %q", cfg.Client)
	}
}
