package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/tkv/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrChannelClosed is returned by Post after the channel was closed.
var ErrChannelClosed = errors.New("broadcast: channel closed")

// Channel is one membership in a named broadcast channel. Messages posted
// are delivered to every other member, never back to the poster. Messages of
// one poster arrive in the order they were posted.
type Channel interface {
	// Post sends msg to all other members. Errors wrapping ErrInvalidMessage
	// reject this message only, any other error means the channel is lost.
	Post(msg *Message) error

	// Messages returns the inbound messages. The channel is closed when the
	// membership ends, either through Close or because the transport went away.
	Messages() <-chan *Message

	// Close ends the membership.
	Close() error
}

// Opener joins the channel with the given name.
type Opener func(name string) (Channel, error)

// --------------------------------------------------------------------------
// In-process Hub
// --------------------------------------------------------------------------

// Hub connects channel members within one process. It is the equivalent of
// the browser's BroadcastChannel between contexts of one origin.
type Hub struct {
	rooms *xsync.MapOf[string, *room]
}

type room struct {
	mu      sync.RWMutex
	members map[*member]struct{}
}

type member struct {
	room   *room
	queue  *util.LockFreeMPSC[Message]
	closed atomic.Bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: xsync.NewMapOf[string, *room]()}
}

// Open joins the named channel.
func (h *Hub) Open(name string) (Channel, error) {
	r, _ := h.rooms.LoadOrCompute(name, func() *room {
		return &room{members: make(map[*member]struct{})}
	})

	m := &member{
		room:  r,
		queue: util.NewLockFreeMPSC[Message](),
	}

	r.mu.Lock()
	r.members[m] = struct{}{}
	r.mu.Unlock()

	return m, nil
}

// Opener returns h.Open as an Opener.
func (h *Hub) Opener() Opener {
	return h.Open
}

// Members returns the number of members of the named channel.
func (h *Hub) Members(name string) int {
	r, ok := h.rooms.Load(name)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Shutdown ends every membership of the named channel, as if the underlying
// primitive went away.
func (h *Hub) Shutdown(name string) {
	r, ok := h.rooms.LoadAndDelete(name)
	if !ok {
		return
	}

	r.mu.Lock()
	members := r.members
	r.members = make(map[*member]struct{})
	r.mu.Unlock()

	for m := range members {
		m.closed.Store(true)
		m.queue.Close()
	}
}

func (m *member) Post(msg *Message) error {
	if m.closed.Load() {
		return ErrChannelClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	m.room.mu.RLock()
	defer m.room.mu.RUnlock()

	for other := range m.room.members {
		if other == m {
			continue
		}
		c := *msg
		other.queue.Push(&c)
	}
	return nil
}

func (m *member) Messages() <-chan *Message {
	return m.queue.Recv()
}

func (m *member) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.room.mu.Lock()
	delete(m.room.members, m)
	m.room.mu.Unlock()

	m.queue.Close()
	return nil
}
