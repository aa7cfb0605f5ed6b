package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func received(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func TestLocal_NotifyReachesWatchersOfPath(t *testing.T) {
	l := NewLocal()
	a, cancelA := l.Watch("owner/acme/invoices")
	defer cancelA()
	b, cancelB := l.Watch("owner/acme/quotes")
	defer cancelB()

	require.NoError(t, l.Notify(context.Background(), "owner/acme/invoices"))

	assert.True(t, received(a))
	assert.False(t, received(b))
}

func TestLocal_SignalsCoalesce(t *testing.T) {
	l := NewLocal()
	ch, cancel := l.Watch("p")
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Notify(context.Background(), "p"))
	}

	assert.True(t, received(ch))
	assert.False(t, received(ch))
}

func TestLocal_CancelIsIdempotent(t *testing.T) {
	l := NewLocal()
	ch, cancel := l.Watch("p")
	assert.Equal(t, 1, l.WatcherCount("p"))

	cancel()
	cancel()

	assert.Equal(t, 0, l.WatcherCount("p"))
	require.NoError(t, l.Notify(context.Background(), "p"))
	assert.False(t, received(ch))
}

func TestLocal_NotifyAll(t *testing.T) {
	l := NewLocal()
	a, cancelA := l.Watch("a")
	defer cancelA()
	b, cancelB := l.Watch("b")
	defer cancelB()

	l.notifyAll(context.Background())

	assert.True(t, received(a))
	assert.True(t, received(b))
}

func TestMessageRoundTrip(t *testing.T) {
	payload, err := encodeMessage("owner/acme/bills", "node-1")
	require.NoError(t, err)

	msg, err := decodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "owner/acme/bills", msg.Path)
	assert.Equal(t, "node-1", msg.Origin)
	assert.NotZero(t, msg.Timestamp)

	_, err = decodeMessage("{")
	assert.Error(t, err)
}

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisNotifier_ForwardSkipsOwnMessages(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	n := NewRedisNotifierWithClient(client, WithChannel("test:changes"))
	ch, cancel := n.Watch("owner/acme/invoices")
	defer cancel()

	own, _ := encodeMessage("owner/acme/invoices", n.origin)
	n.forward(context.Background(), own)
	assert.False(t, received(ch))

	remote, _ := encodeMessage("owner/acme/invoices", "other-node")
	n.forward(context.Background(), remote)
	assert.True(t, received(ch))

	n.forward(context.Background(), "not json")
	assert.False(t, received(ch))
}

func TestRedisNotifier_NotifySignalsLocallyEvenWhenPublishFails(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	n := NewRedisNotifierWithClient(client)
	ch, cancel := n.Watch("p")
	defer cancel()

	err := n.Notify(context.Background(), "p")

	assert.Error(t, err)
	assert.True(t, received(ch))
	assert.NoError(t, n.Close())
}
