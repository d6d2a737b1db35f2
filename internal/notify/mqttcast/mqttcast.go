// Package mqttcast broadcasts alerts over MQTT for on-site displays and
// subscribed mobile clients.
package mqttcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/trigger"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	qosAtLeastOnce = 1
)

// Notifier publishes alert payloads to per-recipient MQTT topics.
type Notifier struct {
	client      mqtt.Client
	topicPrefix string
}

// New connects to the broker and returns a ready notifier.
func New(brokerURL, clientID, topicPrefix string) (*Notifier, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", brokerURL, token.Error())
	}
	if topicPrefix == "" {
		topicPrefix = "muster/alerts"
	}
	return &Notifier{client: client, topicPrefix: topicPrefix}, nil
}

// Name identifies the channel in trigger policies.
func (n *Notifier) Name() string { return "broadcast" }

// Send publishes the alert to the recipient's topic at QoS 1.
func (n *Notifier) Send(_ context.Context, rcpt trigger.Recipient, alert *dispatch.Alert) error {
	return n.publish(n.topicPrefix+"/recipient/"+rcpt.ID, alert)
}

// PublishArea publishes an alert to the building-wide topic, reaching
// every subscriber in the building regardless of recipient lists.
func (n *Notifier) PublishArea(building string, alert *dispatch.Alert) error {
	return n.publish(n.topicPrefix+"/building/"+building, alert)
}

func (n *Notifier) publish(topic string, alert *dispatch.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("mqtt: marshal alert: %w", err)
	}

	token := n.client.Publish(topic, qosAtLeastOnce, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight publishes to drain.
func (n *Notifier) Close() {
	n.client.Disconnect(250)
}
