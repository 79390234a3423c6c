package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/tkv/lib/broadcast"
	"github.com/ValentinKolb/tkv/lib/util"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/transport"
)

// Opener returns a broadcast.Opener that joins channels through the relay at
// config.Endpoint. Every call dials its own connection.
//
// Usage:
//
//	opener := relay.Opener(config, unix.NewConnector(), serializer.NewBinarySerializer())
//	engine := tstore.New(cfg, fastTier, bulkTier, opener)
func Opener(config common.RelayConfig, connector transport.Connector, s serializer.IMessageSerializer) broadcast.Opener {
	return func(name string) (broadcast.Channel, error) {
		ctx := context.Background()
		if timeout := config.Timeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return Dial(ctx, config, connector, s, name)
	}
}

// channel is a broadcast.Channel backed by one relay connection
type channel struct {
	name       string
	conn       net.Conn
	serializer serializer.IMessageSerializer
	timeout    time.Duration

	writeMu sync.Mutex
	queue   *util.LockFreeMPSC[broadcast.Message]
	closed  atomic.Bool
	done    chan struct{}
}

// Dial connects to the relay and joins the named channel
func Dial(ctx context.Context, config common.RelayConfig, connector transport.Connector, s serializer.IMessageSerializer, name string) (broadcast.Channel, error) {
	if name == "" {
		return nil, errors.New("relay: empty channel name")
	}

	conn, err := connector.Dial(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s %s: %w", connector.Name(), config.Endpoint, err)
	}

	c := &channel{
		name:       name,
		conn:       conn,
		serializer: s,
		timeout:    config.Timeout(),
		queue:      util.NewLockFreeMPSC[broadcast.Message](),
		done:       make(chan struct{}),
	}

	if err := c.writeFrame(transport.FrameJoin, []byte(name)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("relay: join %s: %w", name, err)
	}

	go c.readLoop()

	return c, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see broadcast.Channel)
// --------------------------------------------------------------------------

func (c *channel) Post(msg *broadcast.Message) error {
	if c.closed.Load() {
		return broadcast.ErrChannelClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	data, err := c.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("%w: serialize %s: %w", broadcast.ErrInvalidMessage, msg, err)
	}
	if len(data) > transport.MaxFrameSize {
		return fmt.Errorf("%w: %s: %w", broadcast.ErrInvalidMessage, msg, transport.ErrFrameTooLarge)
	}
	if err := c.writeFrame(transport.FrameMessage, data); err != nil {
		return fmt.Errorf("relay: post %s: %w", msg, err)
	}
	return nil
}

func (c *channel) Messages() <-chan *broadcast.Message {
	return c.queue.Recv()
}

func (c *channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	<-c.done
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *channel) writeFrame(kind transport.FrameKind, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	return transport.WriteFrame(c.conn, kind, data)
}

// readLoop decodes inbound frames into the mailbox until the connection ends.
// Closing the mailbox tells the broadcaster that the channel is gone.
func (c *channel) readLoop() {
	defer close(c.done)
	defer c.queue.Close()

	for {
		kind, data, err := transport.ReadFrame(c.conn)
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) {
				Logger.Warningf("channel %s: connection lost: %v", c.name, err)
			}
			return
		}
		if kind != transport.FrameMessage {
			Logger.Warningf("channel %s: ignoring unexpected %s frame", c.name, kind)
			continue
		}

		msg := &broadcast.Message{}
		if err := c.serializer.Deserialize(data, msg); err != nil {
			Logger.Warningf("channel %s: dropping undecodable message: %v", c.name, err)
			continue
		}
		if err := msg.Validate(); err != nil {
			Logger.Warningf("channel %s: dropping message: %v", c.name, err)
			continue
		}
		c.queue.Push(msg)
	}
}
