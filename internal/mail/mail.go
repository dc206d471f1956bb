// Package mail renders CFP notifications and hands them to a delivery backend
package mail

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
)

// Message is one rendered mail
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// Kind of notification, e.g. "accepted"
	Kind string `json:"kind"`
}

// Mailer hands mails over for delivery. Delivery itself happens elsewhere.
type Mailer interface {
	Send(ctx context.Context, m Message) error
	Close() error
}

// LogMailer only logs the mails it is given
type LogMailer struct {
	logger *logrus.Entry
}

// NewLogMailer creates a mailer that writes every mail to the log
func NewLogMailer(logger *logrus.Entry) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the mail
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.WithFields(logrus.Fields{
		log.FldMail: msg.Kind,
		"to":        msg.To,
		"subject":   msg.Subject,
	}).Info("Mail")
	return nil
}

// Close does nothing
func (m *LogMailer) Close() error {
	return nil
}

// MemoryMailer keeps the mails it is given and can be told to fail
type MemoryMailer struct {
	sync.Mutex
	sent []Message
	// Err is returned by Send when set
	Err error
}

// Send stores the mail or fails with Err
func (m *MemoryMailer) Send(ctx context.Context, msg Message) error {
	m.Lock()
	defer m.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the mails sent so far
func (m *MemoryMailer) Sent() []Message {
	m.Lock()
	defer m.Unlock()
	return append([]Message(nil), m.sent...)
}

// Close does nothing
func (m *MemoryMailer) Close() error {
	return nil
}
