package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recorder is an Invalidator that records calls
type recorder struct {
	mu    sync.Mutex
	calls []string
	seen  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 100)}
}

func (r *recorder) Invalidate(key string) {
	r.mu.Lock()
	r.calls = append(r.calls, "invalidate:"+key)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) InvalidateAll() {
	r.mu.Lock()
	r.calls = append(r.calls, "all")
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out after %d of %d calls", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func receive(t *testing.T, ch Channel) *Message {
	t.Helper()
	select {
	case msg, ok := <-ch.Messages():
		if !ok {
			t.Fatal("Channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	return nil
}

func TestMessageValidate(t *testing.T) {
	if err := InvalidateAll().Validate(); err != nil {
		t.Errorf("Global invalidate should be valid, got %v", err)
	}
	if err := Update("").Validate(); err != nil {
		t.Errorf("Update of the empty key should be valid, got %v", err)
	}
	if err := (&Message{Type: TypeUpdate, All: true}).Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Update without key should be invalid, got %v", err)
	}
	if err := (&Message{Type: "delete", Key: "a"}).Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Unknown type should be invalid, got %v", err)
	}
	if s := InvalidateAll().String(); s != "invalidate(*)" {
		t.Errorf("Unexpected string %s", s)
	}
	if s := Invalidate("").String(); s != `invalidate("")` {
		t.Errorf("Unexpected string %s", s)
	}
}

func TestHubDelivery(t *testing.T) {
	hub := NewHub()

	a, _ := hub.Open("tkv")
	b, _ := hub.Open("tkv")
	c, _ := hub.Open("tkv")
	other, _ := hub.Open("other")
	defer a.Close()
	defer b.Close()
	defer c.Close()
	defer other.Close()

	if hub.Members("tkv") != 3 {
		t.Fatalf("Expected 3 members, got %d", hub.Members("tkv"))
	}

	if err := a.Post(Update("theme")); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	for _, ch := range []Channel{b, c} {
		if msg := receive(t, ch); msg.Type != TypeUpdate || msg.Key != "theme" {
			t.Errorf("Unexpected message %s", msg)
		}
	}

	select {
	case msg := <-a.Messages():
		t.Errorf("Sender must not receive its own message, got %s", msg)
	case msg := <-other.Messages():
		t.Errorf("Other channel must not receive the message, got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	if err := a.Post(&Message{Type: "bogus"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected invalid message error, got %v", err)
	}
}

func TestHubOrderPerSender(t *testing.T) {
	hub := NewHub()
	sender, _ := hub.Open("tkv")
	receiver, _ := hub.Open("tkv")
	defer sender.Close()
	defer receiver.Close()

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_ = sender.Post(Update(fmt.Sprintf("k%d", i)))
		}
	}()

	for i := 0; i < n; i++ {
		msg := receive(t, receiver)
		if want := fmt.Sprintf("k%d", i); msg.Key != want {
			t.Fatalf("Expected %s, got %s", want, msg.Key)
		}
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Open("tkv")
	b, _ := hub.Open("tkv")
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if _, ok := <-a.Messages(); ok {
		t.Errorf("Expected closed message channel")
	}
	if err := a.Post(Update("x")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
	if hub.Members("tkv") != 1 {
		t.Errorf("Expected 1 member left, got %d", hub.Members("tkv"))
	}
}

func TestBroadcasterApply(t *testing.T) {
	hub := NewHub()

	localTarget := newRecorder()
	remoteTarget := newRecorder()
	local := New("tkv", hub.Opener(), localTarget)
	remote := New("tkv", hub.Opener(), remoteTarget)
	defer local.Close()
	defer remote.Close()

	local.PostUpdate("theme")
	local.PostInvalidate("draft")
	local.PostUpdate("")
	local.PostInvalidateAll()

	calls := remoteTarget.wait(t, 4)
	expected := []string{"invalidate:theme", "invalidate:draft", "invalidate:", "all"}
	if fmt.Sprint(calls) != fmt.Sprint(expected) {
		t.Errorf("Expected %v, got %v", expected, calls)
	}

	if local.Sent() != 4 || remote.Received() != 4 {
		t.Errorf("Expected 4 sent and received, got %d %d", local.Sent(), remote.Received())
	}
	if local.Degraded() {
		t.Errorf("Broadcaster must stay active")
	}

	select {
	case <-localTarget.seen:
		t.Errorf("Sender must not apply its own messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterDegraded(t *testing.T) {
	t.Run("NilOpener", func(t *testing.T) {
		b := New("tkv", nil, newRecorder())
		if !b.Degraded() {
			t.Errorf("Expected degraded broadcaster")
		}
		b.PostUpdate("theme")
		b.PostInvalidateAll()
		if b.Sent() != 0 {
			t.Errorf("Degraded broadcaster must not send")
		}
		if err := b.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	t.Run("OpenError", func(t *testing.T) {
		b := New("tkv", func(string) (Channel, error) {
			return nil, errors.New("not supported")
		}, newRecorder())
		if !b.Degraded() {
			t.Errorf("Expected degraded broadcaster")
		}
		b.PostUpdate("theme")
		_ = b.Close()
	})

	t.Run("ChannelGone", func(t *testing.T) {
		hub := NewHub()
		b := New("tkv", hub.Opener(), newRecorder())
		defer b.Close()

		if b.Degraded() {
			t.Fatalf("Expected working broadcaster")
		}

		hub.Shutdown("tkv")

		deadline := time.Now().Add(2 * time.Second)
		for !b.Degraded() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if !b.Degraded() {
			t.Fatalf("Expected broadcaster to degrade after the channel closed")
		}
		b.PostUpdate("theme")
	})
}

// pickyChannel rejects messages for one key and fails for good after lost is set
type pickyChannel struct {
	reject string
	lost   bool
	posted []string
	inbox  chan *Message
}

func (p *pickyChannel) Post(msg *Message) error {
	if p.lost {
		return errors.New("broken pipe")
	}
	if msg.Key == p.reject {
		return fmt.Errorf("%w: key too large", ErrInvalidMessage)
	}
	p.posted = append(p.posted, msg.Key)
	return nil
}

func (p *pickyChannel) Messages() <-chan *Message { return p.inbox }

func (p *pickyChannel) Close() error {
	close(p.inbox)
	return nil
}

func TestBroadcasterRejectedMessage(t *testing.T) {
	ch := &pickyChannel{reject: "huge", inbox: make(chan *Message)}
	b := New("tkv", func(string) (Channel, error) { return ch, nil }, newRecorder())
	defer b.Close()

	b.PostUpdate("huge")
	if b.Degraded() {
		t.Fatalf("A rejected message must not degrade the broadcaster")
	}
	if b.Dropped() != 1 {
		t.Errorf("Expected 1 dropped message, got %d", b.Dropped())
	}

	b.PostUpdate("theme")
	if b.Sent() != 1 || fmt.Sprint(ch.posted) != "[theme]" {
		t.Errorf("Expected theme to be sent, got %d %v", b.Sent(), ch.posted)
	}

	ch.lost = true
	b.PostUpdate("theme")
	if !b.Degraded() {
		t.Errorf("Expected degraded broadcaster after the channel failed")
	}
}
