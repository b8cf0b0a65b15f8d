package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "rillcall:presence:"

type eventType string

const (
	eventJoin  eventType = "join"
	eventLeave eventType = "leave"
)

// event is published on a channel's events topic whenever membership changes.
// Subscribers re-read the full membership rather than applying deltas.
type event struct {
	Type       eventType     `json:"type"`
	PeerID     domain.PeerID `json:"peerId"`
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
}

type RedisConfig struct {
	InstanceID        string
	MemberTTL         time.Duration
	HeartbeatInterval time.Duration
	// MaxMissedBeats is how many failed heartbeats close the channel.
	MaxMissedBeats int
}

// RedisNetwork shares presence across nodes. Each tracked record lives in its
// own key with a TTL refreshed by heartbeat, so a crashed node's members age out.
type RedisNetwork struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.SugaredLogger
}

func NewRedisNetwork(client *redis.Client, cfg RedisConfig, logger *zap.SugaredLogger) *RedisNetwork {
	if cfg.MemberTTL <= 0 {
		cfg.MemberTTL = 45 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.MemberTTL / 3
	}
	if cfg.MaxMissedBeats <= 0 {
		cfg.MaxMissedBeats = 2
	}
	return &RedisNetwork{client: client, cfg: cfg, logger: logger}
}

func (n *RedisNetwork) Join(ctx context.Context, channel string) (ports.PresenceChannel, error) {
	c := &redisChannel{
		network: n,
		name:    channel,
		syncs:   make(chan domain.PresenceSnapshot, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	c.pubsub = n.client.Subscribe(ctx, c.eventsKey())
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrSignalingUnreachable, channel, err)
	}

	snap, err := c.read(ctx)
	if err != nil {
		_ = c.pubsub.Close()
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrSignalingUnreachable, channel, err)
	}
	c.syncs <- snap

	go c.run()

	n.logger.Debugw("subscribed to presence channel", "channel", channel)
	return c, nil
}

type redisChannel struct {
	network *RedisNetwork
	name    string
	pubsub  *redis.PubSub
	syncs   chan domain.PresenceSnapshot

	mu     sync.Mutex
	record *domain.PresenceRecord

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (c *redisChannel) Name() string {
	return c.name
}

func (c *redisChannel) Syncs() <-chan domain.PresenceSnapshot {
	return c.syncs
}

func (c *redisChannel) memberKey(peerID domain.PeerID) string {
	return keyPrefix + c.name + ":member:" + string(peerID)
}

func (c *redisChannel) membersKey() string {
	return keyPrefix + c.name + ":members"
}

func (c *redisChannel) eventsKey() string {
	return keyPrefix + c.name + ":events"
}

func (c *redisChannel) Track(ctx context.Context, record domain.PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	client := c.network.client
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.memberKey(record.PeerID), data, c.network.cfg.MemberTTL)
		pipe.SAdd(ctx, c.membersKey(), string(record.PeerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: track on %s: %v", domain.ErrSignalingUnreachable, c.name, err)
	}

	c.mu.Lock()
	first := c.record == nil
	c.record = &record
	c.mu.Unlock()

	if err := c.publish(ctx, eventJoin, record.PeerID); err != nil {
		return err
	}
	if first {
		go c.heartbeat()
	}
	return nil
}

func (c *redisChannel) publish(ctx context.Context, typ eventType, peerID domain.PeerID) error {
	data, err := json.Marshal(event{
		Type:       typ,
		PeerID:     peerID,
		InstanceID: c.network.cfg.InstanceID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}
	if err := c.network.client.Publish(ctx, c.eventsKey(), data).Err(); err != nil {
		return fmt.Errorf("%w: publish on %s: %v", domain.ErrSignalingUnreachable, c.name, err)
	}
	return nil
}

// run turns change notices into full snapshots until the channel stops.
func (c *redisChannel) run() {
	defer close(c.done)
	defer close(c.syncs)

	msgs := c.pubsub.Channel()
	for {
		select {
		case <-c.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.network.logger.Warnw("failed to unmarshal presence event",
					"channel", c.name,
					"error", err,
				)
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.network.cfg.HeartbeatInterval)
			snap, err := c.read(ctx)
			cancel()
			if err != nil {
				c.network.logger.Warnw("failed to read presence members", "channel", c.name, "error", err)
				continue
			}
			c.deliver(snap)
		}
	}
}

func (c *redisChannel) deliver(snap domain.PresenceSnapshot) {
	for {
		select {
		case c.syncs <- snap:
			return
		case <-c.stop:
			return
		default:
		}
		select {
		case <-c.syncs:
		default:
		}
	}
}

// read loads the full membership, pruning set entries whose record has expired.
func (c *redisChannel) read(ctx context.Context) (domain.PresenceSnapshot, error) {
	client := c.network.client
	snap := domain.PresenceSnapshot{Channel: c.name, Members: []domain.PresenceRecord{}}

	ids, err := client.SMembers(ctx, c.membersKey()).Result()
	if err != nil {
		return snap, err
	}
	if len(ids) == 0 {
		return snap, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.memberKey(domain.PeerID(id))
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return snap, err
	}

	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec domain.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			c.network.logger.Warnw("skipping malformed presence record", "key", keys[i], "error", err)
			continue
		}
		snap.Members = append(snap.Members, rec)
	}
	if len(expired) > 0 {
		client.SRem(ctx, c.membersKey(), expired...)
	}

	sort.Slice(snap.Members, func(i, j int) bool {
		return snap.Members[i].PeerID < snap.Members[j].PeerID
	})
	return snap, nil
}

// heartbeat refreshes the record's TTL. Repeated failures mean the backend is
// gone, and the channel is closed so the owner can resubscribe.
func (c *redisChannel) heartbeat() {
	ticker := time.NewTicker(c.network.cfg.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		rec := c.record
		c.mu.Unlock()
		if rec == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.network.cfg.HeartbeatInterval)
		err := c.refresh(ctx, *rec)
		cancel()
		if err == nil {
			missed = 0
			continue
		}

		missed++
		c.network.logger.Warnw("presence heartbeat failed",
			"channel", c.name,
			"missed", missed,
			"error", err,
		)
		if missed >= c.network.cfg.MaxMissedBeats {
			c.shutdown()
			return
		}
	}
}

func (c *redisChannel) refresh(ctx context.Context, rec domain.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = c.network.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.memberKey(rec.PeerID), data, c.network.cfg.MemberTTL)
		pipe.SAdd(ctx, c.membersKey(), string(rec.PeerID))
		return nil
	})
	return err
}

func (c *redisChannel) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
		_ = c.pubsub.Close()
	})
	<-c.done
}

func (c *redisChannel) Leave(ctx context.Context) error {
	c.mu.Lock()
	rec := c.record
	c.record = nil
	c.mu.Unlock()

	c.shutdown()

	if rec == nil {
		return nil
	}

	client := c.network.client
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.memberKey(rec.PeerID))
		pipe.SRem(ctx, c.membersKey(), string(rec.PeerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("untrack on %s: %w", c.name, err)
	}
	if err := c.publish(ctx, eventLeave, rec.PeerID); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
