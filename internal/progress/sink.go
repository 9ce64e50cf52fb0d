// Package progress delivers job progress to subscribers.
//
// There is one global stream, which only the most recent subscriber
// receives, and any number of per-job streams addressed by job id.
package progress

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Event is one progress update.
type Event struct {
	JobID      string  `json:"jobId"`
	Percentage float64 `json:"percentage"`
}

// Subscription is a registered consumer. Its event channel is never closed;
// Done is closed when the subscription ends, either through Unsubscribe or,
// for the global stream, because a newer subscriber replaced it.
type Subscription struct {
	jobID  string
	global bool
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// JobID is empty for the global subscription.
func (s *Subscription) JobID() string {
	return s.jobID
}

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

// Sink fans progress events out to subscribers.
type Sink struct {
	mu     sync.RWMutex
	global *Subscription
	jobs   map[string][]*Subscription
	buffer int
}

// NewSink creates a Sink whose subscriptions buffer up to buffer events.
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Sink{
		jobs:   make(map[string][]*Subscription),
		buffer: buffer,
	}
}

// Subscribe attaches to the global stream, ending any previous global subscription.
func (s *Sink) Subscribe() *Subscription {
	sub := s.newSubscription("", true)

	s.mu.Lock()
	prev := s.global
	s.global = sub
	s.mu.Unlock()

	if prev != nil {
		prev.end()
	}
	return sub
}

// SubscribeJob attaches to the events of a single job.
func (s *Sink) SubscribeJob(jobID string) *Subscription {
	sub := s.newSubscription(jobID, false)

	s.mu.Lock()
	s.jobs[jobID] = append(s.jobs[jobID], sub)
	s.mu.Unlock()

	return sub
}

// Unsubscribe detaches sub. It is safe to call more than once.
func (s *Sink) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	s.mu.Lock()
	if sub.global {
		if s.global == sub {
			s.global = nil
		}
	} else {
		subs := s.jobs[sub.jobID]
		for i, candidate := range subs {
			if candidate == sub {
				s.jobs[sub.jobID] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(s.jobs[sub.jobID]) == 0 {
			delete(s.jobs, sub.jobID)
		}
	}
	s.mu.Unlock()

	sub.end()
}

// Publish delivers ev without blocking. A subscriber whose buffer is full
// misses the event.
func (s *Sink) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.global != nil {
		select {
		case s.global.ch <- ev:
		default:
		}
	}
	for _, sub := range s.jobs[ev.JobID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// PublishFinal delivers ev to every current subscriber, waiting for buffer
// space until the subscriber leaves or ctx ends.
func (s *Sink) PublishFinal(ctx context.Context, ev Event) error {
	targets := s.targets(ev.JobID)

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribers reports the number of attached subscriptions.
func (s *Sink) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	if s.global != nil {
		n++
	}
	for _, subs := range s.jobs {
		n += len(subs)
	}
	return n
}

func (s *Sink) targets(jobID string) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make([]*Subscription, 0, len(s.jobs[jobID])+1)
	if s.global != nil {
		targets = append(targets, s.global)
	}
	return append(targets, s.jobs[jobID]...)
}

func (s *Sink) newSubscription(jobID string, global bool) *Subscription {
	return &Subscription{
		jobID:  jobID,
		global: global,
		ch:     make(chan Event, s.buffer),
		done:   make(chan struct{}),
	}
}
