package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"rillcall/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalHangup SignalType = "hangup"
)

// Envelope carries one SDP exchange step between two endpoints.
type Envelope struct {
	Type     SignalType           `json:"type"`
	From     domain.PeerID        `json:"from"`
	CallID   string               `json:"call_id"`
	SDP      string               `json:"sdp,omitempty"`
	Metadata *domain.CallMetadata `json:"metadata,omitempty"`
}

// Relay moves envelopes between endpoints addressed by peer ID.
type Relay interface {
	Subscribe(ctx context.Context, peer domain.PeerID) (Subscription, error)
	// Publish fails with domain.ErrPeerUnavailable when no endpoint listens on to.
	Publish(ctx context.Context, to domain.PeerID, env Envelope) error
}

// Subscription's channel is closed on Close or when the relay connection drops.
type Subscription interface {
	Envelopes() <-chan Envelope
	Close() error
}

const relayBuffer = 32

// MemoryRelay connects endpoints inside one process.
type MemoryRelay struct {
	mu   sync.Mutex
	subs map[domain.PeerID]*memorySubscription
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{subs: make(map[domain.PeerID]*memorySubscription)}
}

type memorySubscription struct {
	relay *MemoryRelay
	peer  domain.PeerID
	ch    chan Envelope
	once  sync.Once
}

func (r *MemoryRelay) Subscribe(_ context.Context, peer domain.PeerID) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.subs[peer]; ok {
		old.closeLocked()
	}
	sub := &memorySubscription{relay: r, peer: peer, ch: make(chan Envelope, relayBuffer)}
	r.subs[peer] = sub
	return sub, nil
}

func (r *MemoryRelay) Publish(_ context.Context, to domain.PeerID, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[to]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPeerUnavailable, to)
	}
	select {
	case sub.ch <- env:
		return nil
	default:
		return fmt.Errorf("%w: relay backlog for %s is full", domain.ErrSignalingUnreachable, to)
	}
}

func (s *memorySubscription) Envelopes() <-chan Envelope { return s.ch }

func (s *memorySubscription) Close() error {
	s.relay.mu.Lock()
	defer s.relay.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked must be called with relay.mu held, so no Publish can race the close.
func (s *memorySubscription) closeLocked() {
	s.once.Do(func() {
		if s.relay.subs[s.peer] == s {
			delete(s.relay.subs, s.peer)
		}
		close(s.ch)
	})
}

const relayKeyPrefix = "rillcall:relay:"

// RedisRelay routes envelopes over redis pub/sub, one topic per peer ID.
type RedisRelay struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisRelay(client *redis.Client, logger *zap.SugaredLogger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger}
}

func relayKey(peer domain.PeerID) string {
	return relayKeyPrefix + string(peer)
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
}

func (r *RedisRelay) Subscribe(ctx context.Context, peer domain.PeerID) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, relayKey(peer))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe relay %s: %v", domain.ErrSignalingUnreachable, peer, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Envelope, relayBuffer),
		done:   make(chan struct{}),
	}
	go sub.run(r.logger)
	return sub, nil
}

func (s *redisSubscription) run(logger *zap.SugaredLogger) {
	defer close(s.ch)

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warnw("dropping malformed relay envelope", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.ch <- env:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Envelopes() <-chan Envelope { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (r *RedisRelay) Publish(ctx context.Context, to domain.PeerID, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	receivers, err := r.client.Publish(ctx, relayKey(to), data).Result()
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", domain.ErrSignalingUnreachable, to, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPeerUnavailable, to)
	}
	return nil
}
