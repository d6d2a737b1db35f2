// Package mqttscan is an MQTT-backed radio scanner: tracked entities
// publish WiFi scans and beacon ranging samples to telemetry topics, and
// the scanner serves the estimator the most recent observations.
package mqttscan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/muster/internal/position"
)

const (
	connectTimeout = 10 * time.Second

	// defaultTTL bounds how old a cached observation may be before it no
	// longer contributes to an estimate. Stale radio data would place an
	// entity where it was, not where it is.
	defaultTTL = 2 * time.Minute

	wifiSuffix    = "/wifi"
	rangingSuffix = "/ranging"
)

type cachedWifi struct {
	readings []position.APReading
	at       time.Time
}

type cachedRanging struct {
	samples []position.RangingSample
	at      time.Time
}

// Scanner caches the latest telemetry per entity. It satisfies
// position.Scanner; reads never block on the broker.
type Scanner struct {
	client mqtt.Client
	prefix string
	ttl    time.Duration
	logger log.Logger

	mu      sync.RWMutex
	wifi    map[string]cachedWifi
	ranging map[string]cachedRanging
}

// New connects to the broker and subscribes to the telemetry topics
// {prefix}/+/wifi and {prefix}/+/ranging.
func New(brokerURL, clientID, topicPrefix string, logger log.Logger) (*Scanner, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if topicPrefix == "" {
		topicPrefix = "muster/telemetry"
	}

	s := &Scanner{
		prefix:  topicPrefix,
		ttl:     defaultTTL,
		logger:  logger,
		wifi:    make(map[string]cachedWifi),
		ranging: make(map[string]cachedRanging),
	}

	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// resubscribe on every (re)connect; paho drops subscriptions
		// with clean sessions
		for _, topic := range []string{topicPrefix + "/+" + wifiSuffix, topicPrefix + "/+" + rangingSuffix} {
			if token := c.Subscribe(topic, 0, s.onMessage); token.Wait() && token.Error() != nil {
				logger.Error(context.Background(), token.Error(), "telemetry subscribe failed", "topic", topic)
			}
		}
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttscan: connect %s: %w", brokerURL, token.Error())
	}
	return s, nil
}

// WifiScan returns the entity's most recent WiFi observation, or nothing
// when no fresh telemetry has arrived.
func (s *Scanner) WifiScan(_ context.Context, entityID string) ([]position.APReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.wifi[entityID]
	if !ok || time.Since(c.at) > s.ttl {
		return nil, nil
	}
	return append([]position.APReading(nil), c.readings...), nil
}

// BeaconRanges returns the entity's most recent ranging samples, or
// nothing when no fresh telemetry has arrived.
func (s *Scanner) BeaconRanges(_ context.Context, entityID string) ([]position.RangingSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.ranging[entityID]
	if !ok || time.Since(c.at) > s.ttl {
		return nil, nil
	}
	return append([]position.RangingSample(nil), c.samples...), nil
}

// Close disconnects from the broker.
func (s *Scanner) Close() {
	s.client.Disconnect(250)
}

func (s *Scanner) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.ingest(msg.Topic(), msg.Payload())
}

// ingest parses one telemetry message and replaces the entity's cached
// observation. Malformed payloads are logged and dropped; telemetry is
// lossy by nature and the previous observation ages out through the TTL.
func (s *Scanner) ingest(topic string, payload []byte) {
	switch {
	case strings.HasSuffix(topic, wifiSuffix):
		entityID, ok := s.entityFrom(topic, wifiSuffix)
		if !ok {
			return
		}
		var readings []position.APReading
		if err := json.Unmarshal(payload, &readings); err != nil {
			s.logger.Warn(context.Background(), "malformed wifi telemetry dropped",
				"topic", topic, "error", err)
			return
		}
		s.mu.Lock()
		s.wifi[entityID] = cachedWifi{readings: readings, at: time.Now()}
		s.mu.Unlock()

	case strings.HasSuffix(topic, rangingSuffix):
		entityID, ok := s.entityFrom(topic, rangingSuffix)
		if !ok {
			return
		}
		var samples []position.RangingSample
		if err := json.Unmarshal(payload, &samples); err != nil {
			s.logger.Warn(context.Background(), "malformed ranging telemetry dropped",
				"topic", topic, "error", err)
			return
		}
		s.mu.Lock()
		s.ranging[entityID] = cachedRanging{samples: samples, at: time.Now()}
		s.mu.Unlock()
	}
}

// entityFrom extracts the entity id from {prefix}/{entity}{suffix}.
func (s *Scanner) entityFrom(topic, suffix string) (string, bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(topic, s.prefix+"/"), suffix)
	if inner == "" || strings.Contains(inner, "/") {
		return "", false
	}
	return inner, true
}
