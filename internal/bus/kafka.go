package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
)

// KafkaPublisher writes messages to Kafka, one Kafka topic per bus topic
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logrus.Entry
}

// NewKafkaPublisher creates a publisher writing to the given brokers
func NewKafkaPublisher(brokers []string, logger *logrus.Entry) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// NewPublisher returns a Kafka publisher if the first broker is reachable and an in-memory bus otherwise
func NewPublisher(ctx context.Context, brokers []string, logger *logrus.Entry) Publisher {
	if len(brokers) == 0 {
		logger.Info("No Kafka brokers configured - using in-memory bus")
		return NewMemoryBus()
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		logger.WithError(err).Warn("Kafka is not reachable - using in-memory bus")
		return NewMemoryBus()
	}
	conn.Close()
	return NewKafkaPublisher(brokers, logger)
}

// Publish writes the message as JSON
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: value,
		Time:  msg.Time,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to '%s': %v", topic, err)
	}
	p.logger.WithField(log.FldTopic, topic).Debug("Notice published")
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
