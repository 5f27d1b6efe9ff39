// internal/broker/memory.go
package broker

import (
	"context"
	"fmt"
	"sync"
)

// Channel is an in-process durable queue. Messages published while nobody is
// subscribed stay in the backlog until a subscriber takes them, and a message
// that was not handed to a consumer before its subscription closed goes back to
// the head of the queue. It also lets callers inject connection and publish
// failures.
type Channel struct {
	mu            sync.Mutex
	backlog       [][]byte
	published     [][]byte
	wake          chan struct{}
	subs          map[*memSubscription]struct{}
	failConnects  int
	failPublishes int
}

// NewChannel returns an empty queue.
func NewChannel() *Channel {
	return &Channel{
		wake: make(chan struct{}),
		subs: make(map[*memSubscription]struct{}),
	}
}

// Publish appends body to the queue.
func (c *Channel) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failPublishes > 0 {
		c.failPublishes--
		return fmt.Errorf("%w: publish refused", ErrUnavailable)
	}

	msg := append([]byte(nil), body...)
	c.backlog = append(c.backlog, msg)
	c.published = append(c.published, msg)
	close(c.wake)
	c.wake = make(chan struct{})
	return nil
}

// Subscribe opens a consumer on the queue.
func (c *Channel) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failConnects > 0 {
		c.failConnects--
		return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}

	s := &memSubscription{
		c:    c,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	c.subs[s] = struct{}{}
	go s.pump()
	return s, nil
}

// FailNextConnects makes the next n Subscribe calls fail.
func (c *Channel) FailNextConnects(n int) {
	c.mu.Lock()
	c.failConnects = n
	c.mu.Unlock()
}

// FailNextPublishes makes the next n Publish calls fail.
func (c *Channel) FailNextPublishes(n int) {
	c.mu.Lock()
	c.failPublishes = n
	c.mu.Unlock()
}

// Drop closes every open subscription, as if the connection had been lost.
func (c *Channel) Drop() {
	c.mu.Lock()
	subs := make([]*memSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

// Published returns every message accepted so far, in publish order.
func (c *Channel) Published() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.published))
	copy(out, c.published)
	return out
}

// Pending reports how many messages wait for a consumer.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backlog)
}

// next pops the head of the backlog. When the backlog is empty ok is false
// and wake is closed on the next publish.
func (c *Channel) next() (msg []byte, wake <-chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.backlog) > 0 {
		msg = c.backlog[0]
		c.backlog = c.backlog[1:]
		return msg, nil, true
	}
	return nil, c.wake, false
}

func (c *Channel) requeue(msg []byte) {
	c.mu.Lock()
	c.backlog = append([][]byte{msg}, c.backlog...)
	c.mu.Unlock()
}

func (c *Channel) remove(s *memSubscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

type memSubscription struct {
	c    *Channel
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// pump is the only writer of out and the only one to close it.
func (s *memSubscription) pump() {
	defer close(s.out)
	for {
		msg, wake, ok := s.c.next()
		if !ok {
			select {
			case <-wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- msg:
		case <-s.done:
			s.c.requeue(msg)
			return
		}
	}
}

func (s *memSubscription) Deliveries() <-chan []byte { return s.out }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.c.remove(s)
	})
	return nil
}
