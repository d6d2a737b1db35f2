// Package mqttcap captures voice utterances over MQTT. Edge devices run
// speech recognition locally and publish transcripts to the telemetry
// topic; the capture streams them to the listening session.
package mqttcap

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/linnemanlabs/go-core/log"
)

const (
	connectTimeout = 10 * time.Second

	// bufferSize bounds queued utterances between session reads. The
	// buffer is small on purpose: a stalled session should drop stale
	// utterances rather than replay an old emergency phrase much later.
	bufferSize = 8
)

// Capture streams published utterances, satisfying voice.Capture.
type Capture struct {
	client mqtt.Client
	frames chan []byte
	logger log.Logger
}

// New connects to the broker and subscribes to
// {prefix}/{deviceID}/utterance.
func New(brokerURL, clientID, topicPrefix, deviceID string, logger log.Logger) (*Capture, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if topicPrefix == "" {
		topicPrefix = "muster/telemetry"
	}

	c := &Capture{
		frames: make(chan []byte, bufferSize),
		logger: logger,
	}
	topic := topicPrefix + "/" + deviceID + "/utterance"

	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		if token := cl.Subscribe(topic, 0, c.onMessage); token.Wait() && token.Error() != nil {
			logger.Error(context.Background(), token.Error(), "utterance subscribe failed", "topic", topic)
		}
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttcap: connect %s: %w", brokerURL, token.Error())
	}
	return c, nil
}

// Next blocks until an utterance arrives or ctx is done.
func (c *Capture) Next(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects from the broker.
func (c *Capture) Close() {
	c.client.Disconnect(250)
}

func (c *Capture) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.push(msg.Payload())
}

// push enqueues an utterance, evicting the oldest when the buffer is full.
func (c *Capture) push(payload []byte) {
	frame := append([]byte(nil), payload...)
	for {
		select {
		case c.frames <- frame:
			return
		default:
		}
		select {
		case dropped := <-c.frames:
			c.logger.Warn(context.Background(), "utterance buffer full, oldest dropped",
				"dropped_len", len(dropped))
		default:
		}
	}
}
