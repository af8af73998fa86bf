package peering

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitBlocks(t *testing.T) {
	tests := []struct {
		pieceLength int
		want        []Block
	}{
		{49152, []Block{{0, 16384}, {16384, 16384}, {32768, 16384}}},
		{20000, []Block{{0, 16384}, {16384, 3616}}},
		{16384, []Block{{0, 16384}}},
		{100, []Block{{0, 100}}},
		{0, nil},
	}
	for _, tt := range tests {
		if got := SplitBlocks(tt.pieceLength, 16384); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitBlocks(%d) = %v, want %v", tt.pieceLength, got, tt.want)
		}
	}
}

func TestParseRequest(t *testing.T) {
	index, begin, length, err := ParseRequest(FormatRequest(7, 32768, 100))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if index != 7 || begin != 32768 || length != 100 {
		t.Errorf("got %d %d %d", index, begin, length)
	}
}

func TestParseErrors(t *testing.T) {
	if _, _, _, err := ParsePiece(&Message{ID: MsgPiece, Payload: []byte{0, 0, 0}}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("short piece: %v", err)
	}
	if _, _, _, err := ParsePiece(&Message{ID: MsgHave}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("wrong id: %v", err)
	}
	if _, _, _, err := ParsePiece(nil); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("keep-alive: %v", err)
	}
	if _, err := ParseHave(&Message{ID: MsgHave, Payload: []byte{1}}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("short have: %v", err)
	}
	if _, _, _, err := ParseRequest(&Message{ID: MsgRequest, Payload: make([]byte, 8)}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("short request: %v", err)
	}
}
