package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("broadcast")

// Invalidator is the local cache the broadcaster keeps coherent.
type Invalidator interface {
	Invalidate(key string)
	InvalidateAll()
}

// Broadcaster posts coherence messages for the local engine and applies the
// messages of other contexts to the local cache.
//
// If no channel can be opened, or the channel goes away, the broadcaster
// degrades to a no-op. This is logged once and never returned as an error:
// without messages, staleness is bounded by the cache TTL only. Messages the
// channel rejects are dropped without degrading.
type Broadcaster struct {
	name   string
	ch     Channel
	target Invalidator

	degraded     atomic.Bool
	degradedOnce sync.Once
	closing      atomic.Bool
	done         chan struct{}

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// New joins the named channel through opener and starts applying inbound
// messages to target. A nil opener or a failing open yields a degraded
// broadcaster.
func New(name string, opener Opener, target Invalidator) *Broadcaster {
	b := &Broadcaster{
		name:   name,
		target: target,
		done:   make(chan struct{}),
	}

	if opener == nil {
		b.degrade("no broadcast channel available")
		close(b.done)
		return b
	}

	ch, err := opener(name)
	if err != nil {
		b.degrade("open channel: " + err.Error())
		close(b.done)
		return b
	}
	b.ch = ch

	go b.loop()

	return b
}

func (b *Broadcaster) degrade(reason string) {
	b.degraded.Store(true)
	b.degradedOnce.Do(func() {
		Logger.Warningf("channel %s unavailable, coherence limited to cache TTL: %s", b.name, reason)
	})
}

// Degraded reports whether the broadcaster stopped sending and receiving.
func (b *Broadcaster) Degraded() bool {
	return b.degraded.Load()
}

// --------------------------------------------------------------------------
// Outbound
// --------------------------------------------------------------------------

// PostInvalidate tells other contexts to drop key.
func (b *Broadcaster) PostInvalidate(key string) {
	b.post(Invalidate(key))
}

// PostInvalidateAll tells other contexts to drop every key.
func (b *Broadcaster) PostInvalidateAll() {
	b.post(InvalidateAll())
}

// PostUpdate tells other contexts that key was written.
func (b *Broadcaster) PostUpdate(key string) {
	b.post(Update(key))
}

func (b *Broadcaster) post(msg *Message) {
	if b.degraded.Load() || b.closing.Load() {
		return
	}
	if err := b.ch.Post(msg); err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			b.dropped.Add(1)
			Logger.Warningf("dropped %s on %s: %v", msg, b.name, err)
			return
		}
		b.degrade("post " + msg.String() + ": " + err.Error())
		return
	}
	b.sent.Add(1)
	Logger.Debugf("posted %s on %s", msg, b.name)
}

// --------------------------------------------------------------------------
// Inbound
// --------------------------------------------------------------------------

func (b *Broadcaster) loop() {
	defer close(b.done)

	for msg := range b.ch.Messages() {
		b.apply(msg)
		b.received.Add(1)
	}

	if !b.closing.Load() {
		b.degrade("channel closed by transport")
	}
}

func (b *Broadcaster) apply(msg *Message) {
	if b.target == nil {
		return
	}
	switch msg.Type {
	case TypeInvalidate:
		if msg.All {
			b.target.InvalidateAll()
		} else {
			b.target.Invalidate(msg.Key)
		}
	case TypeUpdate:
		if msg.All {
			Logger.Debugf("ignoring update without key on %s", b.name)
			return
		}
		b.target.Invalidate(msg.Key)
	default:
		Logger.Warningf("ignoring message with unknown type %q on %s", msg.Type, b.name)
	}
}

// --------------------------------------------------------------------------
// Lifecycle and Stats
// --------------------------------------------------------------------------

// Close leaves the channel and waits for the inbound loop to stop.
func (b *Broadcaster) Close() error {
	if !b.closing.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if b.ch != nil {
		err = b.ch.Close()
	}
	<-b.done
	return err
}

// Sent returns the number of messages posted.
func (b *Broadcaster) Sent() uint64 {
	return b.sent.Load()
}

// Dropped returns the number of outbound messages the channel rejected.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Received returns the number of messages received.
func (b *Broadcaster) Received() uint64 {
	return b.received.Load()
}
