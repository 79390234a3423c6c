package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// FrameKind tells the relay what a frame carries
type FrameKind byte

const (
	// FrameJoin is the first frame of a connection, its payload is the channel name
	FrameJoin FrameKind = iota + 1
	// FrameMessage carries one serialized broadcast message
	FrameMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameJoin:
		return "join"
	case FrameMessage:
		return "message"
	default:
		return fmt.Sprintf("FrameKind(%d)", byte(k))
	}
}

const (
	headerSize = 5
	// MaxFrameSize bounds the payload of a frame
	MaxFrameSize = 1 << 20
)

var (
	// ErrFrameTooLarge is returned for payloads above MaxFrameSize
	ErrFrameTooLarge = errors.New("transport: frame too large")
	// ErrUnknownFrame is returned for frames of an unknown kind
	ErrUnknownFrame = errors.New("transport: unknown frame kind")
)

// WriteFrame writes a frame with the format:
// - 1 byte: kind
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func WriteFrame(w io.Writer, kind FrameKind, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	header := make([]byte, headerSize)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(w)
	return err
}

// ReadFrame reads one frame. A clean end of stream before the header is
// reported as io.EOF; a stream ending inside a frame as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (FrameKind, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	kind := FrameKind(header[0])
	if kind != FrameJoin && kind != FrameMessage {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownFrame, header[0])
	}

	contentLength := binary.BigEndian.Uint32(header[1:])
	if contentLength > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, contentLength)
	}
	if contentLength == 0 {
		return kind, []byte{}, nil
	}

	data := make([]byte, contentLength)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return kind, data, nil
}
