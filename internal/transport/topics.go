package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"orderflow/internal/logging"
)

type TopicSpec struct {
	Partitions        int
	ReplicationFactor int
}

// EnsureTopics creates the given topics through the cluster controller. Topics that already exist are left alone.
func EnsureTopics(ctx context.Context, brokers []string, topics []string, spec TopicSpec, l *zap.Logger) error {
	l = logging.OrNop(l)
	if len(brokers) == 0 {
		return errors.New("ensure topics: no brokers")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
		}
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			l.Info("one or more kafka topics already exist, skipping creation", zap.Strings("topics", topics))
			return nil
		}
		return fmt.Errorf("create kafka topics: %w", err)
	}
	l.Info("kafka topics ensured",
		zap.Strings("topics", topics),
		zap.Int("partitions", spec.Partitions),
		zap.Int("replication_factor", spec.ReplicationFactor))
	return nil
}
