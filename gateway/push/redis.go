package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
)

// DefaultChannel is the Pub/Sub channel used when none is configured.
const DefaultChannel = "healthsync:session-events"

// RedisSource subscribes to a Redis Pub/Sub channel carrying JSON push events.
type RedisSource struct {
	client  redis.UniversalClient
	channel string
	log     *zap.Logger
}

var _ gateway.Source = (*RedisSource)(nil)

// NewRedisSource publishes and receives push events on channel.
func NewRedisSource(client redis.UniversalClient, channel string, log *zap.Logger) *RedisSource {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSource{client: client, channel: channel, log: log.Named("push.redis")}
}

func (s *RedisSource) seqKey() string { return s.channel + ":seq" }

// Subscribe blocks until Redis confirms the subscription, then delivers
// events on a background goroutine until the subscription is closed.
func (s *RedisSource) Subscribe(fn func(gateway.PushEvent)) (gateway.Subscription, error) {
	ctx := context.Background()
	ps := s.client.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range ps.Channel() {
			ev, err := gateway.DecodePushEvent([]byte(msg.Payload))
			if err != nil {
				s.log.Warn("dropping undecodable push event", zap.Error(err))
				continue
			}
			fn(ev)
		}
	}()

	return gateway.SubscriptionFunc(func() error {
		err := ps.Close()
		wg.Wait()
		return err
	}), nil
}

// Publish sends ev on the channel. A zero Sequence is assigned from a Redis
// counter shared by every publisher on the channel.
func (s *RedisSource) Publish(ctx context.Context, ev gateway.PushEvent) (uint64, error) {
	if ev.Sequence == 0 {
		n, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
		}
		ev.Sequence = uint64(n)
	}
	data, err := gateway.EncodePushEvent(ev)
	if err != nil {
		return 0, err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	return ev.Sequence, nil
}
