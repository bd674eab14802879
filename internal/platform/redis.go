package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"collection-tracker/internal/config"
	"collection-tracker/internal/watcher"
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		Username:     cfg.User,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisSource reads fixes that a GPS bridge publishes on a pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *logrus.Logger
}

func NewRedisSource(client *redis.Client, channel string, logger *logrus.Logger) *RedisSource {
	return &RedisSource{client: client, channel: channel, logger: logger}
}

func (s *RedisSource) Open(ctx context.Context, _ watcher.Options) (watcher.Feed, error) {
	ps := s.client.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, watcher.NewError(watcher.PositionUnavailable, fmt.Errorf("subscribe %s: %w", s.channel, err))
	}

	feed := newChanFeed(1, ps.Close)
	msgs := ps.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					_ = feed.Close()
					return
				}
				fix, err := decodeFix([]byte(msg.Payload))
				if err != nil {
					s.logger.WithError(err).WithField("channel", msg.Channel).Warn("invalid location message")
					continue
				}
				if !feed.push(fix) {
					return
				}
			}
		}
	}()
	return feed, nil
}
