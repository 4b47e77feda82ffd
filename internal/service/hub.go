// Package service provides the core orchestration for the resale data
// service: snapshot lifecycle, query evaluation, and fan-out of refresh
// notifications to subscribers.
//
// The hub component implements a fan-out distribution system that delivers
// snapshot-update notices to multiple subscribers while handling slow
// consumers gracefully.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Update describes one published snapshot to hub subscribers.
type Update struct {
	RefreshedAt   time.Time `json:"refreshed_at"`
	Rows          int       `json:"rows"`
	Periods       []string  `json:"periods"`
	PeriodsFailed int       `json:"periods_failed"`
}

// Subscriber represents one client listening for snapshot updates. Each
// subscriber owns a buffered channel the hub delivers into.
type Subscriber struct {
	id int64
	ch chan Update
}

// Updates returns the channel snapshot notices are delivered on. The channel
// closes when the subscriber is removed or the hub shuts down.
func (s *Subscriber) Updates() <-chan Update {
	return s.ch
}

// Hub fans snapshot-update notices out to all subscribers.
//
// The hub uses the actor model: a single goroutine owns the subscribers map,
// so no mutex is needed. Subscription, unsubscription and notification all
// travel through channels into that goroutine.
type Hub struct {
	subscribers      map[int64]*Subscriber // Active subscribers (owned by run goroutine)
	subscriptionCh   chan *Subscriber      // Channel for new subscription requests
	unsubscriptionCh chan *Subscriber      // Channel for unsubscription requests
	notifyCh         chan Update           // Channel for snapshot notices
	started          atomic.Bool           // Atomic flag tracking hub state
	randIdGen        *rand.Rand            // Generator for unique subscriber IDs
}

// NewHub creates a Hub in a stopped state; call Run before subscribing.
func NewHub() *Hub {
	return &Hub{
		subscribers:      make(map[int64]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10), // Buffered to prevent blocking
		unsubscriptionCh: make(chan *Subscriber, 10), // Buffered to prevent blocking
		notifyCh:         make(chan Update, 10),
		randIdGen:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe registers a new update subscriber.
func (h *Hub) Subscribe() (*Subscriber, error) {
	if !h.started.Load() {
		return nil, errors.New("hub not started")
	}

	sub := &Subscriber{
		id: h.randIdGen.Int63(),
		ch: make(chan Update, 4), // buffer per client
	}

	select {
	case h.subscriptionCh <- sub:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}

	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) error {
	select {
	case h.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

// Notify hands an update to the hub for distribution. Non-blocking: when the
// hub's intake is saturated the notice is dropped, because a newer snapshot
// notice always supersedes an undelivered one.
func (h *Hub) Notify(u Update) {
	if !h.started.Load() {
		return
	}

	select {
	case h.notifyCh <- u:
	default:
		log.Warn().Msg("hub intake full, dropping snapshot notice")
	}
}

// Run starts the hub's actor goroutine. It returns immediately; the
// goroutine exits and closes all subscriber channels when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return errors.New("hub already started")
	}

	go func() {
		defer func() {
			for _, sub := range h.subscribers {
				close(sub.ch)
			}
			h.subscribers = make(map[int64]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("hub stopped")
				return
			case sub := <-h.subscriptionCh:
				h.subscribers[sub.id] = sub
			case sub := <-h.unsubscriptionCh:
				if _, ok := h.subscribers[sub.id]; ok {
					delete(h.subscribers, sub.id)
					close(sub.ch)
				}
			case u := <-h.notifyCh:
				h.dispatch(u)
			}
		}
	}()

	return nil
}

// dispatch delivers an update to every subscriber. Only called from the run
// goroutine, so map access needs no locking. A slow subscriber loses its
// oldest buffered notice rather than blocking the hub.
func (h *Hub) dispatch(u Update) {
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- u:
		default:
			log.Info().Int64("subscriber", sub.id).Msg("subscriber too slow, dropping oldest notice")
			<-sub.ch
			sub.ch <- u
		}
	}
}
