package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tally.bridge/internal/adapters/queue/local"
	"tally.bridge/internal/core/domain"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// fakeClient records publishes; every other method panics via the nil embedded interface.
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	published    map[string][]byte
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload.([]byte)
	return doneToken{}
}

func (f *fakeClient) Disconnect(quiesce uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeClient) topic(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.published[name]
	return b, ok
}

func TestPublisher_RelaysEvents(t *testing.T) {
	bus := local.NewBus()
	client := &fakeClient{published: make(map[string][]byte)}
	p := newPublisher(client, bus, "tally")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.NoError(t, bus.PublishEvent(ctx, domain.Event{Type: domain.EventAgentRegistered, ClientID: "W1"}))

	require.Eventually(t, func() bool {
		_, a := client.topic("tally/events/agent_registered")
		_, b := client.topic("tally/agents/W1")
		return a && b
	}, time.Second, 10*time.Millisecond)

	raw, _ := client.topic("tally/events/agent_registered")
	var got domain.Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "W1", got.ClientID)
}

func TestPublisher_GlobalEventsSkipAgentTopic(t *testing.T) {
	client := &fakeClient{published: make(map[string][]byte)}
	p := newPublisher(client, local.NewBus(), "tally")

	p.publish(domain.Event{Type: domain.EventSyncStateChanged})

	_, ok := client.topic("tally/events/sync_state_changed")
	assert.True(t, ok)
	assert.Len(t, client.published, 1)
}

func TestPublisher_DisconnectsOnCancel(t *testing.T) {
	client := &fakeClient{published: make(map[string][]byte)}
	p := newPublisher(client, local.NewBus(), "tally")
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.disconnected
	}, time.Second, 10*time.Millisecond)
}
