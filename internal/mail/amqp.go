package mail

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
)

// AMQPMailer publishes mails as persistent JSON messages to a durable queue read by the delivery service
type AMQPMailer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *logrus.Entry
}

// NewAMQPMailer connects to the broker and declares the mail queue
func NewAMQPMailer(url string, queueName string, logger *logrus.Entry) (*AMQPMailer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %v", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}
	q, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue '%s': %v", queueName, err)
	}
	return &AMQPMailer{
		conn:    conn,
		channel: channel,
		queue:   q,
		logger:  logger,
	}, nil
}

// Send publishes the mail
func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = m.channel.PublishWithContext(ctx, "", m.queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         msg.Kind,
	})
	if err != nil {
		return fmt.Errorf("failed to publish mail: %v", err)
	}
	m.logger.WithFields(logrus.Fields{log.FldMail: msg.Kind, "to": msg.To}).Debug("Mail handed over")
	return nil
}

// Close closes channel and connection
func (m *AMQPMailer) Close() error {
	var errs []error
	if err := m.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors while closing AMQP mailer: %v", errs)
	}
	return nil
}
