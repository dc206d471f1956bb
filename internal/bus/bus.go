// Package bus publishes notices for the admins and the green room crew onto a message bus
package bus

import (
	"sync"
	"time"

	"golang.org/x/net/context"
)

// Topics
const (
	// TopicHeralds receives notices about new and withdrawn content
	TopicHeralds = "heralds"
	// TopicGreenroom receives notices about schedule changes affecting speakers on site
	TopicGreenroom = "greenroom"
)

// Message is one notice on the bus
type Message struct {
	Key        string    `json:"key,omitempty"`
	Text       string    `json:"text"`
	ProposalID uint      `json:"proposalId,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher publishes messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

// MemoryBus keeps published messages in memory. It is used when no broker is configured.
type MemoryBus struct {
	sync.RWMutex
	topics map[string][]Message
}

// NewMemoryBus creates an empty in-memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: map[string][]Message{}}
}

// Publish appends the message to the topic
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	b.Lock()
	defer b.Unlock()
	b.topics[topic] = append(b.topics[topic], msg)
	return nil
}

// Messages returns a copy of the messages published to the topic
func (b *MemoryBus) Messages(topic string) []Message {
	b.RLock()
	defer b.RUnlock()
	return append([]Message(nil), b.topics[topic]...)
}

// Close does nothing
func (b *MemoryBus) Close() error {
	return nil
}
