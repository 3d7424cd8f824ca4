package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
)

const defaultPrefix = "tally"

// Publisher relays bridge events to MQTT for dashboards and other subscribers.
type Publisher struct {
	client mqtt.Client
	bus    ports.EventBus
	prefix string
}

// NewPublisher connects to brokerURL and relays events from bus once started.
// An empty prefix publishes under "tally".
func NewPublisher(bus ports.EventBus, brokerURL, prefix string) (*Publisher, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID("tally-bridge-" + uuid.NewString()[:8])
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("Connected to MQTT broker", "broker", brokerURL)
	return newPublisher(client, bus, prefix), nil
}

func newPublisher(client mqtt.Client, bus ports.EventBus, prefix string) *Publisher {
	return &Publisher{client: client, bus: bus, prefix: prefix}
}

// Start consumes the event bus until ctx is cancelled, then disconnects.
func (p *Publisher) Start(ctx context.Context) {
	ch, err := p.bus.SubscribeEvents(ctx)
	if err != nil {
		logger.Error("MQTT: failed to subscribe to events", "error", err)
		return
	}
	go func() {
		defer p.client.Disconnect(250)
		p.relay(ctx, ch)
	}()
}

func (p *Publisher) relay(ctx context.Context, ch <-chan domain.Event) {
	logger.Info("MQTT: started event relay", "prefix", p.prefix)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			p.publish(event)
		}
	}
}

// Topics: <prefix>/events/<type>, plus <prefix>/agents/<clientId> for agent-scoped events.
func (p *Publisher) publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn("MQTT: failed to encode event", "type", event.Type, "error", err)
		return
	}
	topics := []string{fmt.Sprintf("%s/events/%s", p.prefix, event.Type)}
	if event.ClientID != "" {
		topics = append(topics, fmt.Sprintf("%s/agents/%s", p.prefix, event.ClientID))
	}
	for _, topic := range topics {
		p.client.Publish(topic, 0, false, data)
	}
}
