package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/retry"
	"rillcall/pkg/utils"

	"go.uber.org/zap"
)

type SyncHandler func(domain.PresenceSnapshot)

// PresenceRegistry tracks who is online on the global presence channel.
// Every sync replaces the local view; a dropped channel empties it until the
// registry has resubscribed.
type PresenceRegistry struct {
	network     ports.PresenceNetwork
	channelName string
	resubscribe retry.Config
	clock       utils.Clock
	logger      *zap.SugaredLogger

	mu       sync.RWMutex
	record   *domain.PresenceRecord
	channel  ports.PresenceChannel
	view     map[domain.UserID]domain.PresenceRecord
	handlers []SyncHandler
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPresenceRegistry(
	network ports.PresenceNetwork,
	channelName string,
	resubscribe retry.Config,
	logger *zap.SugaredLogger,
) *PresenceRegistry {
	return &PresenceRegistry{
		network:     network,
		channelName: channelName,
		resubscribe: resubscribe,
		clock:       utils.SystemClock(),
		logger:      logger,
		view:        make(map[domain.UserID]domain.PresenceRecord),
	}
}

// Join announces identity on the global channel. Calling it again while joined is a no-op.
// When the first subscription fails the error is returned and the registry keeps
// resubscribing in the background until Leave.
func (r *PresenceRegistry) Join(ctx context.Context, identity domain.PeerIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.record != nil {
		return nil
	}

	record := domain.PresenceRecord{
		PeerID:   identity.PeerID(),
		UserID:   identity.UserID,
		Name:     identity.DisplayName,
		Avatar:   identity.AvatarRef,
		JoinedAt: r.clock(),
	}

	ch, err := r.subscribe(ctx, record)

	loopCtx, cancel := context.WithCancel(context.Background())
	r.record = &record
	r.channel = ch
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx, ch, r.done)

	if err != nil {
		r.logger.Warnw("presence join failed, resubscribing",
			"channel", r.channelName,
			"user_id", identity.UserID,
			"error", err,
		)
		return err
	}

	r.logger.Infow("joined presence channel",
		"channel", r.channelName,
		"user_id", identity.UserID,
	)
	return nil
}

func (r *PresenceRegistry) subscribe(ctx context.Context, record domain.PresenceRecord) (ports.PresenceChannel, error) {
	ch, err := r.network.Join(ctx, r.channelName)
	if err != nil {
		return nil, fmt.Errorf("join presence channel %s: %w", r.channelName, err)
	}
	if err := ch.Track(ctx, record); err != nil {
		_ = ch.Leave(ctx)
		return nil, fmt.Errorf("track presence on %s: %w", r.channelName, err)
	}
	return ch, nil
}

// run applies syncs from ch and resubscribes whenever it drops. A nil ch means
// the initial subscription failed and the loop starts by resubscribing.
func (r *PresenceRegistry) run(ctx context.Context, ch ports.PresenceChannel, done chan struct{}) {
	defer close(done)

	for {
		if ch != nil {
			for snapshot := range ch.Syncs() {
				r.apply(snapshot)
			}

			if ctx.Err() != nil {
				return
			}

			r.logger.Warnw("presence channel dropped, resubscribing",
				"channel", r.channelName,
				"error", domain.ErrSignalingUnreachable,
			)
			r.mu.Lock()
			r.channel = nil
			r.mu.Unlock()
			r.apply(domain.PresenceSnapshot{Channel: r.channelName})
		}

		r.mu.RLock()
		if r.record == nil {
			r.mu.RUnlock()
			return
		}
		record := *r.record
		r.mu.RUnlock()

		next, err := retry.RetryWithResult(ctx, r.resubscribe, func() (ports.PresenceChannel, error) {
			ch, err := r.subscribe(ctx, record)
			if err != nil {
				r.logger.Warnw("presence resubscribe failed", "channel", r.channelName, "error", err)
			}
			return ch, err
		})
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Errorw("giving up on presence channel", "channel", r.channelName, "error", err)
			}
			return
		}

		r.mu.Lock()
		if ctx.Err() != nil || r.record == nil {
			r.mu.Unlock()
			_ = next.Leave(context.Background())
			return
		}
		r.channel = next
		r.mu.Unlock()
		ch = next

		r.logger.Infow("presence channel restored", "channel", r.channelName)
	}
}

func (r *PresenceRegistry) apply(snapshot domain.PresenceSnapshot) {
	view := make(map[domain.UserID]domain.PresenceRecord, len(snapshot.Members))
	for _, m := range snapshot.Members {
		if existing, ok := view[m.UserID]; ok && existing.JoinedAt.Before(m.JoinedAt) {
			continue
		}
		view[m.UserID] = m
	}

	r.mu.Lock()
	if r.record == nil {
		// left while this sync was in flight
		r.mu.Unlock()
		return
	}
	r.view = view
	handlers := append([]SyncHandler(nil), r.handlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(snapshot)
	}
}

// OnSync registers a handler called with the full membership after every sync.
func (r *PresenceRegistry) OnSync(handler SyncHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

func (r *PresenceRegistry) IsOnline(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.view[userID]
	return ok
}

// Online returns the records of all online users sorted by user ID.
func (r *PresenceRegistry) Online() []domain.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]domain.PresenceRecord, 0, len(r.view))
	for _, rec := range r.view {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records
}

// Joined reports whether the registry currently holds a live subscription.
func (r *PresenceRegistry) Joined() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel != nil
}

// Leave untracks the local user and stops resubscribing.
func (r *PresenceRegistry) Leave(ctx context.Context) error {
	r.mu.Lock()
	if r.record == nil {
		r.mu.Unlock()
		return nil
	}
	cancel, ch, done := r.cancel, r.channel, r.done
	r.record = nil
	r.channel = nil
	r.view = make(map[domain.UserID]domain.PresenceRecord)
	r.mu.Unlock()

	cancel()
	var err error
	if ch != nil {
		err = ch.Leave(ctx)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		return fmt.Errorf("leave presence channel %s: %w", r.channelName, err)
	}
	return nil
}
