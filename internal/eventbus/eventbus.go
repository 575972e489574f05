// Package eventbus durably records every state-changing event in the system
// and fans it out to live subscribers, grounded directly on the reference
// implementation's EventBus (original_source/gofer/src/api/event_utils.rs):
// a durable insert through the storage layer, a bounded broadcast to live
// listeners, and a background task that prunes events past their retention
// window. Where the reference uses a tokio broadcast channel, this package
// uses a per-listener buffered Go channel with an explicit drop-oldest
// overflow policy, since stdlib channels aren't broadcast-capable.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// liveBufferSize bounds each live listener's channel (design target: 100).
const liveBufferSize = 100

// historicalPageSize is the page size used both for draining subscribe_historical
// backlog and for the retention pruner's delete passes.
const historicalPageSize = 50

type Bus struct {
	store storage.EventStore
	log   *logger.Logger

	retention     time.Duration
	pruneInterval time.Duration

	subCh       chan subOp
	broadcastCh chan *models.Event
	closeCh     chan struct{}
	pruner      *cron.Cron
}

type subOp struct {
	add    chan *models.Event // non-nil ⇒ register
	remove uint64             // used when add == nil
	result chan uint64        // only set for add ops
}

// New constructs a Bus and starts its subscriber registry and retention
// pruner goroutines. Callers should call Close when shutting down.
func New(store storage.EventStore, log *logger.Logger, retention, pruneInterval time.Duration) *Bus {
	b := &Bus{
		store:         store,
		log:           log,
		retention:     retention,
		pruneInterval: pruneInterval,
		subCh:         make(chan subOp),
		broadcastCh:   make(chan *models.Event, 256),
		closeCh:       make(chan struct{}),
		pruner:        cron.New(),
	}
	go b.subRegistry()
	b.pruner.Schedule(cron.ConstantDelaySchedule{Delay: pruneInterval}, cron.FuncJob(b.pruneOnce))
	b.pruner.Start()
	return b
}

// subRegistry serializes all subscribe/unsubscribe/broadcast traffic through
// a single goroutine, avoiding a mutex around the listener map.
func (b *Bus) subRegistry() {
	subs := make(map[uint64]chan *models.Event)
	var nextID uint64

	for {
		select {
		case op := <-b.subCh:
			if op.add != nil {
				nextID++
				subs[nextID] = op.add
				op.result <- nextID
				continue
			}
			if ch, ok := subs[op.remove]; ok {
				delete(subs, op.remove)
				close(ch)
			}
		case e := <-b.broadcastCh:
			for _, ch := range subs {
				select {
				case ch <- e:
				default:
					// drop-oldest: make room for the newest event.
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- e:
					default:
					}
				}
			}
		case <-b.closeCh:
			for _, ch := range subs {
				close(ch)
			}
			return
		}
	}
}

// Close stops the subscriber registry and retention pruner; listeners still
// open at the time of Close see their channel closed.
func (b *Bus) Close() {
	<-b.pruner.Stop().Done()
	close(b.closeCh)
}

// Listener is the handle returned by SubscribeLive/SubscribeHistorical.
type Listener struct {
	id  uint64
	ch  chan *models.Event
	bus *Bus
}

// Next blocks until an event arrives, the context is cancelled, or the
// listener is closed (ok=false).
func (l *Listener) Next(ctx context.Context) (*models.Event, bool) {
	select {
	case e, ok := <-l.ch:
		return e, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Close unsubscribes a live listener. Historical listeners (bus == nil) are
// already self-terminating and need no explicit close.
func (l *Listener) Close() {
	if l.bus != nil {
		l.bus.subCh <- subOp{remove: l.id}
	}
}

// SubscribeLive returns a listener producing only events published after
// subscription; slow consumers drop the oldest buffered event rather than
// block the publisher.
func (b *Bus) SubscribeLive() *Listener {
	ch := make(chan *models.Event, liveBufferSize)
	result := make(chan uint64, 1)
	b.subCh <- subOp{add: ch, result: result}
	id := <-result
	return &Listener{id: id, ch: ch, bus: b}
}

// SubscribeHistorical drains stored events from start_from (or the oldest)
// forward in pages of 50, then closes: callers that want "history then live"
// compose this with SubscribeLive themselves.
func (b *Bus) SubscribeHistorical(ctx context.Context, startFrom string) (*Listener, error) {
	ch := make(chan *models.Event, historicalPageSize)
	l := &Listener{ch: ch}

	go func() {
		defer close(ch)
		cursor := startFrom
		haveCursor := startFrom != ""
		for {
			events, err := b.store.ListEventsFrom(ctx, cursor, historicalPageSize)
			if err != nil {
				b.log.WithField("error", err).Error("failed to list historical events")
				return
			}
			fetched := len(events)
			// ListEventsFrom is inclusive of cursor; every page after the
			// first re-fetches the prior page's last event, so drop it.
			if haveCursor && fetched > 0 && events[0].ID == cursor {
				events = events[1:]
			}
			for _, e := range events {
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
				cursor = e.ID
				haveCursor = true
			}
			if fetched < historicalPageSize {
				return
			}
		}
	}()

	return l, nil
}

func newEvent(kind models.EventKind, payload map[string]any) (*models.Event, error) {
	if kind == models.EventKindAny {
		return nil, gofererr.NewFailedPrecondition("the Any kind is a subscription filter and must never be published")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, gofererr.NewInternal("event_id_generate", err.Error(), "")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &models.Event{
		ID:      id.String(),
		Kind:    kind,
		Payload: payload,
		Emitted: models.NowMilli(),
	}, nil
}

// Publish is fire-and-forget: it returns the constructed Event immediately
// and performs the durable write + broadcast on a detached goroutine.
// Failures are logged, not surfaced, matching the reference's `publish`.
func (b *Bus) Publish(kind models.EventKind, payload map[string]any) *models.Event {
	e, err := newEvent(kind, payload)
	if err != nil {
		b.log.WithField("error", err).Error("could not construct event")
		return nil
	}

	go func() {
		ctx := context.Background()
		if err := b.store.InsertEvent(ctx, e); err != nil {
			b.log.WithField("error", err).WithField("kind", string(e.Kind)).Error("could not publish event; storage error")
			return
		}
		b.broadcastCh <- e
	}()

	return e
}

// TryPublish is the synchronous variant: it returns the event only after the
// durable insert succeeds, failing with Internal on either storage or
// broadcast error.
func (b *Bus) TryPublish(ctx context.Context, kind models.EventKind, payload map[string]any) (*models.Event, error) {
	e, err := newEvent(kind, payload)
	if err != nil {
		return nil, err
	}
	if err := b.store.InsertEvent(ctx, e); err != nil {
		return nil, gofererr.NewInternal("event_try_publish", err.Error(), "")
	}
	b.broadcastCh <- e
	return e, nil
}

// pruneOnce deletes events whose emitted time is older than now - retention,
// paging in fixed-size chunks until a page returns fewer rows than the page
// size (S6). Invoked on cron's prune_interval schedule.
func (b *Bus) pruneOnce() {
	cutoff := models.NowMilli() - b.retention.Milliseconds()
	ctx := context.Background()
	total := 0

	for {
		n, err := b.store.DeletePrunableEvents(ctx, cutoff, historicalPageSize)
		if err != nil {
			b.log.WithField("error", err).Error("encountered an error during attempt to prune old events")
			return
		}
		total += n
		if n < historicalPageSize {
			break
		}
	}

	if total > 0 {
		b.log.WithField("total_pruned", total).Info("pruned old events")
	}
}
