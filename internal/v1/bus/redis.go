// Package bus relays events across server instances over Redis pub/sub so
// that a dispatcher (internal/v1/dispatcher) on one instance can reach a
// session connected to another. A single-instance deployment runs with a
// nil Service: every method degrades to a no-op rather than requiring a
// separate code path.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Envelope is the wire format published on every channel. OriginID
// identifies the instance that produced the event so a subscriber can
// ignore messages it published itself.
type Envelope struct {
	OriginID string       `json:"originId"`
	Event    events.Event `json:"event"`
}

// Service relays events over Redis pub/sub, wrapped in a circuit breaker so
// a failing Redis never blocks local delivery.
type Service struct {
	client   *redis.Client
	cb       *gobreaker.CircuitBreaker
	originID string
}

// Client returns the underlying Redis client (nil in single-instance mode).
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService dials Redis and wires a circuit breaker around it. originID
// distinguishes this instance's own published events from echoes received
// back from Redis.
func NewService(addr, password, originID string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to redis event bus", "addr", addr)
	return &Service{
		client:   rdb,
		cb:       gobreaker.NewCircuitBreaker(st),
		originID: originID,
	}, nil
}

func roomChannel(id types.RoomID) string {
	return "lairchat:room:" + string(id)
}

func userChannel(id types.UserID) string {
	return "lairchat:user:" + string(id)
}

const broadcastChannel = "lairchat:broadcast"

// channelsFor resolves the Redis channel(s) an event's target must be
// published to.
func channelsFor(target events.Target) []string {
	switch target.Kind {
	case events.TargetEveryMemberOf:
		return []string{roomChannel(target.RoomID)}
	case events.TargetSpecificUser:
		return []string{userChannel(target.UserID)}
	case events.TargetDirectPair:
		return []string{userChannel(target.PeerA), userChannel(target.PeerB)}
	case events.TargetAllLive:
		return []string{broadcastChannel}
	default:
		return nil
	}
}

// Publish relays ev to every other instance subscribed to a channel that
// matches its target. Call sites still dispatch locally first (bus.Publish
// only reaches remote instances); nil Service and circuit-open publishes
// both degrade gracefully to no-ops.
func (s *Service) Publish(ctx context.Context, ev events.Event) error {
	if s == nil || s.client == nil {
		return nil
	}

	channels := channelsFor(ev.Target)
	if len(channels) == 0 {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(Envelope{OriginID: s.originID, Event: ev})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
		}
		for _, channel := range channels {
			if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: dropping event publish", "kind", ev.Kind)
			return nil
		}
		slog.Error("redis publish failed", "kind", ev.Kind, "error", err)
		return err
	}
	return nil
}

// Subscribe listens on channel and invokes handler for every event received
// from another instance, skipping this instance's own echoes. The
// subscription runs until ctx is cancelled; wg (optional) is released when
// the listener goroutine exits.
func (s *Service) Subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(events.Event)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("subscribed to event bus channel", "channel", channel)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("event bus subscription channel closed", "channel", channel)
					return
				}

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("failed to unmarshal bus envelope", "error", err, "channel", channel)
					continue
				}
				if env.OriginID == s.originID {
					continue
				}
				handler(env.Event)
			}
		}
	}()
}

// SubscribeRoom subscribes to every-member-of-room events for roomID.
func (s *Service) SubscribeRoom(ctx context.Context, roomID types.RoomID, wg *sync.WaitGroup, handler func(events.Event)) {
	s.Subscribe(ctx, roomChannel(roomID), wg, handler)
}

// SubscribeUser subscribes to direct/specific-user events for userID.
func (s *Service) SubscribeUser(ctx context.Context, userID types.UserID, wg *sync.WaitGroup, handler func(events.Event)) {
	s.Subscribe(ctx, userChannel(userID), wg, handler)
}

// SubscribeBroadcast subscribes to server-wide events (e.g. ServerNotice).
func (s *Service) SubscribeBroadcast(ctx context.Context, wg *sync.WaitGroup, handler func(events.Event)) {
	s.Subscribe(ctx, broadcastChannel, wg, handler)
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis set, used to track which instance a
// session is connected to for cross-instance presence lookups.
func (s *Service) SetAdd(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: skipping SetAdd", "key", key)
			return nil
		}
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis set.
func (s *Service) SetRem(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: skipping SetRem", "key", key)
			return nil
		}
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: returning empty set members", "key", key)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}
