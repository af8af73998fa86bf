package peering

import (
	"bytes"
	"errors"
	"testing"
)

func TestHandshakeSerialize(t *testing.T) {
	h := Handshake{PeerID: [20]byte([]byte("-PW0001-abcdefghijkl"))}
	buf := h.Serialize()

	if len(buf) != 68 {
		t.Fatalf("len = %d, want 68", len(buf))
	}
	if buf[0] != 19 {
		t.Errorf("byte 0 = %d, want 19", buf[0])
	}
	if string(buf[1:20]) != "BitTorrent protocol" {
		t.Errorf("protocol = %q", buf[1:20])
	}
	if !bytes.Equal(buf[20:48], make([]byte, 28)) {
		t.Errorf("reserved and info hash should be zero, got %x", buf[20:48])
	}
	if string(buf[48:]) != "-PW0001-abcdefghijkl" {
		t.Errorf("peer id = %q", buf[48:])
	}
}

func TestReadHandshake(t *testing.T) {
	sent := Handshake{
		InfoHash: [20]byte{1, 2, 3},
		PeerID:   [20]byte([]byte("PeerIDPeerIDPeerIDPe")),
	}
	got, err := ReadHandshake(bytes.NewReader(sent.Serialize()))
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.InfoHash != sent.InfoHash || got.PeerID != sent.PeerID {
		t.Errorf("got %+v, want %+v", got, sent)
	}
}

func TestReadHandshakeIgnoresProtocolString(t *testing.T) {
	buf := (&Handshake{PeerID: [20]byte{9}}).Serialize()
	copy(buf[0:20], "\x05nonsense-protocol!!")
	got, err := ReadHandshake(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.PeerID[0] != 9 {
		t.Errorf("peer id = %x", got.PeerID)
	}
}

func TestReadHandshakeIncomplete(t *testing.T) {
	full := (&Handshake{}).Serialize()
	for _, n := range []int{0, 40, 67} {
		_, err := ReadHandshake(bytes.NewReader(full[:n]))
		if !errors.Is(err, ErrHandshakeIncomplete) {
			t.Errorf("%d bytes: error = %v, want ErrHandshakeIncomplete", n, err)
		}
	}
}

func TestMessageSerialize(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want []byte
	}{
		{"keep-alive", nil, []byte{0, 0, 0, 0}},
		{"interested", &Message{ID: MsgInterested}, []byte{0, 0, 0, 1, 2}},
		{"have", FormatHave(258), []byte{0, 0, 0, 5, 4, 0, 0, 1, 2}},
		{"request", FormatRequest(1, 16384, 3616), []byte{
			0, 0, 0, 13, 6,
			0, 0, 0, 1,
			0, 0, 0x40, 0,
			0, 0, 0x0e, 0x20,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Serialize(); !bytes.Equal(got, tt.want) {
				t.Errorf("Serialize = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadMessage(t *testing.T) {
	var stream bytes.Buffer
	stream.Write((*Message)(nil).Serialize())
	stream.Write((&Message{ID: MsgUnchoke}).Serialize())
	stream.Write(FormatPiece(3, 16, []byte("data")).Serialize())

	msg, err := ReadMessage(&stream, 1024)
	if err != nil || msg != nil {
		t.Fatalf("keep-alive: got %v, %v", msg, err)
	}

	msg, err = ReadMessage(&stream, 1024)
	if err != nil {
		t.Fatalf("unchoke: %v", err)
	}
	if msg.ID != MsgUnchoke || len(msg.Payload) != 0 {
		t.Errorf("unchoke = %+v", msg)
	}

	msg, err = ReadMessage(&stream, 1024)
	if err != nil {
		t.Fatalf("piece: %v", err)
	}
	index, begin, block, err := ParsePiece(msg)
	if err != nil {
		t.Fatalf("ParsePiece: %v", err)
	}
	if index != 3 || begin != 16 || string(block) != "data" {
		t.Errorf("piece = %d %d %q", index, begin, block)
	}
}

func TestReadMessageErrors(t *testing.T) {
	full := FormatRequest(0, 0, 16384).Serialize()
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty stream", nil, ErrTruncatedMessage},
		{"partial prefix", full[:2], ErrTruncatedMessage},
		{"prefix only", full[:4], ErrTruncatedMessage},
		{"partial body", full[:10], ErrTruncatedMessage},
		{"too large", []byte{0, 1, 0, 0, 7}, ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessage(bytes.NewReader(tt.input), 1024)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessageIDString(t *testing.T) {
	if MsgBitfield.String() != "bitfield" {
		t.Errorf("MsgBitfield = %q", MsgBitfield.String())
	}
	if MessageID(20).String() != "unknown(20)" {
		t.Errorf("MessageID(20) = %q", MessageID(20).String())
	}
}
