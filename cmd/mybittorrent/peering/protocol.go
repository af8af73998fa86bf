package peering

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	protocolID      = "BitTorrent protocol"
	HandshakeLength = 1 + len(protocolID) + 8 + 20 + 20

	lengthPrefixSize = 4
)

var (
	ErrHandshakeIncomplete = errors.New("handshake incomplete")
	ErrTruncatedMessage    = errors.New("truncated message")
	ErrMessageTooLarge     = errors.New("message too large")
)

// Handshake is the fixed 68 byte greeting exchanged before any framing.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 0, HandshakeLength)
	buf = append(buf, byte(len(protocolID)))
	buf = append(buf, protocolID...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// ReadHandshake reads exactly HandshakeLength bytes. The protocol string is
// not checked; bytes [48:68] become the remote peer id.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeLength)
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrHandshakeIncomplete, n, HandshakeLength)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive handshake: %w", err)
	}

	h := &Handshake{}
	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}

// Serialize frames m as <length><id><payload>. A nil message yields a
// keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, lengthPrefixSize)
	}
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, lengthPrefixSize+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one frame. It returns a nil message for keep-alives.
// Frames longer than maxSize are rejected before their body is read.
func ReadMessage(r io.Reader, maxSize int) (*Message, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, truncated("length prefix", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, nil
	}
	if uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, truncated("message body", err)
	}

	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncatedMessage, what)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}
