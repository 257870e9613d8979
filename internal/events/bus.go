package events

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"opsline/internal/domain"
)

// Bus fans domain events out to named subscribers. Publish never blocks:
// each subscriber owns an unbounded queue drained by its own goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	log    zerolog.Logger
}

// Subscription is one consumer's view of the bus. Events is closed after
// Bus.Close or Subscription.Drain once every queued event has been received,
// or immediately on Subscription.Close.
type Subscription struct {
	Name   string
	Events <-chan domain.Event
	cancel func()
	drain  func()
}

func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Drain unsubscribes without discarding: events already queued are still
// delivered before Events closes. The rest of the bus keeps running.
func (s Subscription) Drain() {
	if s.drain != nil {
		s.drain()
	}
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: map[*subscriber]struct{}{},
		log:  log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a consumer. Subscribing to a closed bus returns an
// already-closed subscription.
func (b *Bus) Subscribe(name string) Subscription {
	name = strings.TrimSpace(name)
	sub := newSubscriber()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.finish()
		go sub.pump()
		return Subscription{Name: name, Events: sub.out}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	go sub.pump()
	return Subscription{
		Name:   name,
		Events: sub.out,
		cancel: func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			sub.abort()
		},
		drain: func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			sub.finish()
		},
	}
}

// Publish enqueues evt for every current subscriber.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.log.Debug().Str("kind", evt.Kind).Str("entity_id", evt.EntityID).Msg("publish after close dropped")
		return
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.push(evt)
	}
}

// Close stops accepting events. Subscribers still receive everything that
// was queued before their channel closes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[*subscriber]struct{}{}
	b.mu.Unlock()
	for s := range subs {
		s.finish()
	}
}

type subscriber struct {
	mu      sync.Mutex
	queue   []domain.Event
	done    bool
	signal  chan struct{}
	stop    chan struct{}
	stopped sync.Once
	out     chan domain.Event
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan domain.Event),
	}
}

func (s *subscriber) push(evt domain.Event) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// finish lets the pump drain the queue and then close out.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.wake()
}

// abort closes out without draining.
func (s *subscriber) abort() {
	s.mu.Lock()
	s.done = true
	s.queue = nil
	s.mu.Unlock()
	s.stopped.Do(func() { close(s.stop) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			done := s.done
			s.mu.Unlock()
			if done {
				return
			}
			select {
			case <-s.signal:
			case <-s.stop:
				return
			}
			continue
		}
		evt := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- evt:
		case <-s.stop:
			return
		}
	}
}
