package peering

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// MessageID identifies a peer wire message kind.
type MessageID uint8

const (
	MsgChoke MessageID = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is one length-prefixed frame after the handshake. A nil *Message
// stands for a keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Block is a byte range of a piece, the unit of a request.
type Block struct {
	Begin  int
	Length int
}

// PeerAddr is an IPv4 endpoint decoded from a compact peer list.
type PeerAddr struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

type TrackerRequest struct {
	Announce   string
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	Uploaded   int
	Downloaded int
	Left       int
}

type TrackerResponse struct {
	Interval time.Duration
	Peers    []PeerAddr
}

// PieceResult is a fully assembled piece and the SHA-1 digest of its data.
type PieceResult struct {
	Index  int
	Data   []byte
	Digest [20]byte
}
