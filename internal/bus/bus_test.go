package bus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

func TestMemoryBus(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, TopicHeralds, Message{Text: "one"}))
	require.NoError(t, b.Publish(ctx, TopicGreenroom, Message{Text: "two"}))
	require.NoError(t, b.Publish(ctx, TopicHeralds, Message{Text: "three"}))

	heralds := b.Messages(TopicHeralds)
	require.Len(t, heralds, 2)
	assert.Equal(t, "one", heralds[0].Text)
	assert.Equal(t, "three", heralds[1].Text)
	assert.False(t, heralds[0].Time.IsZero())
	assert.Len(t, b.Messages(TopicGreenroom), 1)
	assert.Empty(t, b.Messages("other"))
}

func TestNewPublisherWithoutBrokers(t *testing.T) {
	p := NewPublisher(context.Background(), nil, logrus.NewEntry(logrus.New()))
	_, ok := p.(*MemoryBus)
	assert.True(t, ok)
}
