package bus

import (
	"sync"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// Bus fans commands out to named subscribers. Each subscriber owns an
// independent queue, so a slow consumer never blocks producers or starves
// its siblings.
//
// Queue policy: PriceUpdate is coalescable. If a subscriber already has an
// update for the same instrument queued, the newer one replaces it in place.
// Every other variant is appended unconditionally and never dropped.
// Publishing holds the subscriber lock for the duration of the append, so
// commands from a single producer goroutine are delivered in emission order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a consumer and starts its delivery pump. Re-subscribing
// an existing name replaces the previous subscription.
func (b *Bus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		name: name,
		out:  make(chan domain.Command),
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.pump()

	b.mu.Lock()
	if old, ok := b.subs[name]; ok {
		old.close()
	}
	b.subs[name] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	sub, ok := b.subs[name]
	delete(b.subs, name)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers cmd to every current subscriber.
func (b *Bus) Publish(cmd domain.Command) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.enqueue(cmd)
	}
}

// Close shuts down all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	for name, sub := range b.subs {
		sub.close()
		delete(b.subs, name)
	}
	b.mu.Unlock()
}

// Subscription is one consumer's view of the bus. Read commands from C().
type Subscription struct {
	name string
	out  chan domain.Command
	done chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.Command
	closed bool
}

// C returns the channel the consumer reads from. It is closed when the
// subscription is removed or the bus shuts down.
func (s *Subscription) C() <-chan domain.Command { return s.out }

func (s *Subscription) enqueue(cmd domain.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if pu, ok := cmd.(domain.PriceUpdate); ok {
		for i := len(s.queue) - 1; i >= 0; i-- {
			if queued, ok := s.queue[i].(domain.PriceUpdate); ok && queued.Point.Instrument == pu.Point.Instrument {
				s.queue[i] = pu
				s.cond.Signal()
				return
			}
		}
	}
	s.queue = append(s.queue, cmd)
	s.cond.Signal()
}

func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.out)
			return
		}
		cmd := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- cmd:
		case <-s.done:
			close(s.out)
			return
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()
}
