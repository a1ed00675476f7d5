package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"agro-logger/internal/config"
	"agro-logger/internal/reading"
)

const (
	publishTimeout = 2 * time.Second
	disconnectWait = 250
)

// Service publishes live readings: the whole snapshot as JSON on the topic and
// every valid channel on <topic>/<channel>. Messages are retained so that new
// dashboard subscribers see the last value at once.
type Service struct {
	topic   string
	client  mqtt.Client
	emitter eventEmitter
}

type eventEmitter interface {
	Subscribe() chan reading.Reading
	Unsubscribe(ch chan reading.Reading)
}

type snapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Values    map[string]*float64 `json:"values"`
}

func New(cfg config.MQTT, emitter eventEmitter) *Service {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAliveDuration)
	opts.SetPingTimeout(cfg.PingTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionNotificationHandler(func(_ mqtt.Client, notification mqtt.ConnectionNotification) {
		switch n := notification.(type) {
		case mqtt.ConnectionNotificationConnected:
			slog.Debug("connected")
		case mqtt.ConnectionNotificationConnecting:
			slog.Debug("connecting", "isReconnect", n.IsReconnect, "attempt", n.Attempt)
		case mqtt.ConnectionNotificationFailed:
			slog.Debug("connection failed", "reason", n.Reason)
		case mqtt.ConnectionNotificationLost:
			slog.Debug("connection lost", "reason", n.Reason)
		case mqtt.ConnectionNotificationBroker:
			slog.Debug("broker connection", "broker", n.Broker.String())
		case mqtt.ConnectionNotificationBrokerFailed:
			slog.Debug("broker connection failed", "reason", n.Reason, "broker", n.Broker.String())
		}
	})

	return NewWithClient(mqtt.NewClient(opts), cfg.Topic, emitter)
}

func NewWithClient(client mqtt.Client, topic string, emitter eventEmitter) *Service {
	return &Service{
		topic:   topic,
		client:  client,
		emitter: emitter,
	}
}

// Run connects and publishes every emitted reading until ctx is done. With
// connect retry enabled the connect token stays pending while the broker is
// unreachable, so the wait also watches ctx.
func (s *Service) Run(ctx context.Context) error {
	token := s.client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	case <-ctx.Done():
		s.client.Disconnect(disconnectWait)

		return nil
	}

	ch := s.emitter.Subscribe()
	defer s.emitter.Unsubscribe(ch)

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return nil
			}

			if err := s.publish(r); err != nil {
				slog.WarnContext(ctx, "mqtt publish failed", "topic", s.topic, "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) publish(r reading.Reading) error {
	payload, err := json.Marshal(snapshot{
		Timestamp: r.Timestamp,
		Values:    r.Floats(),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.send(s.topic, payload); err != nil {
		return err
	}

	for ch, v := range r.Values {
		if !v.OK {
			continue
		}

		if err := s.send(s.topic+"/"+ch, []byte(strconv.FormatFloat(v.V, 'f', 2, 64))); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) send(topic string, payload []byte) error {
	token := s.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	return nil
}

// Close disconnects the client. It also stops a pending connect retry.
func (s *Service) Close() error {
	s.client.Disconnect(disconnectWait)

	return nil
}
