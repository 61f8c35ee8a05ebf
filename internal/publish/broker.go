// Package publish delivers samples to subscribers with latched,
// most-recent-wins semantics and forwards them to external sinks.
package publish

import (
	"sync"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/sample"
	"github.com/google/uuid"
)

// DefaultTopic is the well-known topic the angle samples are published on.
const DefaultTopic = "/drone/angles"

// Broker keeps the most recent sample and hands every new one to all
// subscribers. Publish never blocks on a slow subscriber: each subscriber
// holds at most one pending sample and a newer one replaces it.
type Broker struct {
	topic  string
	log    logger.Logger
	mu     sync.Mutex
	latest *sample.Sample
	subs   map[string]*Subscription
	closed bool
}

// Subscription receives samples from a Broker.
type Subscription struct {
	id     string
	ch     chan sample.Sample
	broker *Broker
}

// NewBroker returns a Broker for topic.
func NewBroker(topic string, log logger.Logger) *Broker {
	if topic == "" {
		topic = DefaultTopic
	}

	return &Broker{
		topic: topic,
		log:   log,
		subs:  make(map[string]*Subscription),
	}
}

// Topic returns the topic name.
func (b *Broker) Topic() string {
	return b.topic
}

// Publish latches s and delivers it to every subscriber.
func (b *Broker) Publish(s sample.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New().WithData(errors.ErrPublisherClosed, b.topic)
	}

	b.latest = &s
	for _, sub := range b.subs {
		sub.offer(s)
	}

	return nil
}

// Latest returns the latched sample, if anything was published yet.
func (b *Broker) Latest() (sample.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest == nil {
		return sample.Sample{}, false
	}
	return *b.latest, true
}

// Subscribe registers a new subscriber. The latched sample, if any, is
// pending on the subscription as soon as it is returned.
func (b *Broker) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New().WithData(errors.ErrPublisherClosed, b.topic)
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		ch:     make(chan sample.Sample, 1),
		broker: b,
	}
	if b.latest != nil {
		sub.ch <- *b.latest
	}
	b.subs[sub.id] = sub

	b.log.Debug().
		Str("topic", b.topic).
		Str("subscriber", sub.id).
		Int("subscribers", len(b.subs)).
		Msg("Subscriber attached")

	return sub, nil
}

// Subscribers returns the number of attached subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close rejects further publishing and closes every subscription channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)

	b.log.Debug().Str("topic", b.topic).Str("subscriber", id).Msg("Subscriber detached")
}

// ID identifies the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// C returns the delivery channel. It is closed when the subscription or the
// broker is closed.
func (s *Subscription) C() <-chan sample.Sample {
	return s.ch
}

// Close detaches the subscription from its broker.
func (s *Subscription) Close() {
	s.broker.remove(s.id)
}

// offer must be called with the broker lock held; the broker is the only
// sender so the second send always finds room.
func (s *Subscription) offer(v sample.Sample) {
	select {
	case s.ch <- v:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}
