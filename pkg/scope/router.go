package scope

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/nxscope/internal/logging"
)

// Sample is one decoded channel sample delivered to subscribers.
type Sample struct {
	Channel uint8

	// Seq is the sequence number of the stream frame that carried the
	// sample. Samples from the same frame share it.
	Seq uint64

	// Recv is the local arrival time of the carrying frame.
	Recv time.Time

	Values []float64
	Text   string
	Meta   []uint64
}

// Subscription is a bounded per-channel sample queue. The channel
// returned by Samples is closed on Unsubscribe and when the session
// disconnects.
type Subscription struct {
	channel uint8
	c       chan []Sample

	mu     sync.Mutex
	closed bool
}

// Channel returns the subscribed channel ID.
func (s *Subscription) Channel() uint8 { return s.channel }

// Samples returns the receive side of the queue. Each element holds the
// samples one stream frame produced for this channel, in wire order.
func (s *Subscription) Samples() <-chan []Sample { return s.c }

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.c)
	}
}

// Router fans decoded samples out to per-channel subscribers. Dispatch
// never blocks: when a subscriber queue is full the batch is dropped for
// that subscriber and the channel's drop counter incremented. Per-channel
// ordering is preserved for whatever is delivered.
type Router struct {
	queueLen int

	mu     sync.Mutex
	subs   map[uint8][]*Subscription
	drops  map[uint8]uint64
	closed bool
}

// NewRouter creates a router with the given per-subscription queue
// length.
func NewRouter(queueLen int) *Router {
	if queueLen <= 0 {
		queueLen = 64
	}
	return &Router{
		queueLen: queueLen,
		subs:     make(map[uint8][]*Subscription),
		drops:    make(map[uint8]uint64),
	}
}

// Subscribe registers a new queue for the given channel.
func (r *Router) Subscribe(channel uint8) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSessionClosed
	}
	sub := &Subscription{
		channel: channel,
		c:       make(chan []Sample, r.queueLen),
	}
	r.subs[channel] = append(r.subs[channel], sub)
	return sub, nil
}

// Unsubscribe removes a subscription and closes its queue. Calling it
// again, or on a closed router, is a no-op.
func (r *Router) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	list := r.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			r.subs[sub.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	sub.close()
}

// Dispatch delivers the samples of one decoded stream frame. Samples are
// grouped per channel, preserving wire order within each group.
func (r *Router) Dispatch(samples []Sample) {
	if len(samples) == 0 {
		return
	}

	batches := make(map[uint8][]Sample)
	order := make([]uint8, 0, 4)
	for _, s := range samples {
		if _, ok := batches[s.Channel]; !ok {
			order = append(order, s.Channel)
		}
		batches[s.Channel] = append(batches[s.Channel], s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range order {
		for _, sub := range r.subs[ch] {
			select {
			case sub.c <- batches[ch]:
			default:
				r.drops[ch]++
				logging.Debug("subscriber queue full, dropping batch",
					zap.Uint8("channel", ch))
			}
		}
	}
}

// Drops returns how many batches were dropped for a channel because a
// subscriber queue was full.
func (r *Router) Drops(channel uint8) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops[channel]
}

// Close closes every subscription queue, signalling end-of-stream.
// Dispatch and Subscribe fail afterwards.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var all []*Subscription
	for _, list := range r.subs {
		all = append(all, list...)
	}
	r.subs = make(map[uint8][]*Subscription)
	r.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
