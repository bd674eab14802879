package platform

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"collection-tracker/internal/config"
	"collection-tracker/internal/watcher"
)

func NewMQTTClient(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// MQTTSource subscribes to the topic the on-board GPS unit publishes to.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	logger *logrus.Logger
}

func NewMQTTSource(client mqtt.Client, topic string, logger *logrus.Logger) *MQTTSource {
	return &MQTTSource{client: client, topic: topic, logger: logger}
}

func (s *MQTTSource) Open(_ context.Context, opts watcher.Options) (watcher.Feed, error) {
	feed := newChanFeed(1, func() error {
		token := s.client.Unsubscribe(s.topic)
		if !token.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("mqtt unsubscribe %s: timed out", s.topic)
		}
		return token.Error()
	})

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		fix, err := decodeFix(msg.Payload())
		if err != nil {
			s.logger.WithError(err).WithField("topic", msg.Topic()).Warn("invalid location message")
			return
		}
		feed.push(fix)
	}

	wait := opts.Timeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	token := s.client.Subscribe(s.topic, 1, handler)
	if !token.WaitTimeout(wait) {
		return nil, watcher.NewError(watcher.Timeout, fmt.Errorf("mqtt subscribe %s", s.topic))
	}
	if err := token.Error(); err != nil {
		return nil, watcher.NewError(watcher.PositionUnavailable, fmt.Errorf("mqtt subscribe %s: %w", s.topic, err))
	}
	return feed, nil
}
