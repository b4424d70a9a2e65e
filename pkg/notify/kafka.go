package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/guardline/abusegate/pkg/config"
)

// KafkaNotifier publishes alerts to a broker topic behind a circuit
// breaker. A dead broker trips the breaker and alerts fall through to the
// log, enforcement itself never waits on delivery retries.
type KafkaNotifier struct {
	cfg      config.NotificationsConfig
	producer *kafka.Producer
	breaker  *gobreaker.CircuitBreaker
	fallback *LogNotifier
	logger   *logrus.Logger
}

func NewKafkaNotifier(cfg config.NotificationsConfig, logger *logrus.Logger) (*KafkaNotifier, error) {
	if cfg.Host == "" || cfg.Port == "" {
		return nil, errors.New("kafka host and port are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-alerts",
		MaxRequests: 5,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &KafkaNotifier{
		cfg:      cfg,
		producer: producer,
		breaker:  breaker,
		fallback: NewLogNotifier(logger),
		logger:   logger,
	}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.publish(data)
	})
	if err != nil {
		n.logger.WithError(err).Warn("alert delivery failed, falling back to log")
		return n.fallback.Notify(ctx, alert)
	}
	return nil
}

func (n *KafkaNotifier) publish(data []byte) error {
	deliveryChan := make(chan kafka.Event, 1)
	err := n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.cfg.Topic, Partition: kafka.PartitionAny},
		Value:          data,
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("failed to produce alert: %w", err)
	}

	e := <-deliveryChan
	m, ok := e.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event %T", e)
	}
	if m.TopicPartition.Error != nil {
		return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
	}
	return nil
}

func (n *KafkaNotifier) Close() {
	if n.producer != nil {
		n.producer.Flush(5000)
		n.producer.Close()
	}
}
