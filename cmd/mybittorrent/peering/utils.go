package peering

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrUnexpectedMessage = errors.New("unexpected message")

// SplitBlocks cuts a piece into blockSize ranges; the last one may be shorter.
func SplitBlocks(pieceLength, blockSize int) []Block {
	if pieceLength <= 0 || blockSize <= 0 {
		return nil
	}
	blocks := make([]Block, 0, (pieceLength+blockSize-1)/blockSize)
	for begin := 0; begin < pieceLength; begin += blockSize {
		blocks = append(blocks, Block{Begin: begin, Length: min(blockSize, pieceLength-begin)})
	}
	return blocks
}

func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// ParseRequest is the inverse of FormatRequest.
func ParseRequest(msg *Message) (index, begin, length int, err error) {
	if err := expect(msg, MsgRequest); err != nil {
		return 0, 0, 0, err
	}
	if len(msg.Payload) != 12 {
		return 0, 0, 0, fmt.Errorf("%w: request payload of %d bytes", ErrUnexpectedMessage, len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(msg.Payload[8:12]))
	return index, begin, length, nil
}

func FormatPiece(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: MsgPiece, Payload: payload}
}

// ParsePiece splits a piece message into its index, offset and block bytes.
func ParsePiece(msg *Message) (index, begin int, block []byte, err error) {
	if err := expect(msg, MsgPiece); err != nil {
		return 0, 0, nil, err
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("%w: piece payload of %d bytes", ErrUnexpectedMessage, len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	return index, begin, msg.Payload[8:], nil
}

func FormatHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

func ParseHave(msg *Message) (int, error) {
	if err := expect(msg, MsgHave); err != nil {
		return 0, err
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("%w: have payload of %d bytes", ErrUnexpectedMessage, len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

func expect(msg *Message, id MessageID) error {
	if msg == nil {
		return fmt.Errorf("%w: expected %s, got keep-alive", ErrUnexpectedMessage, id)
	}
	if msg.ID != id {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedMessage, id, msg.ID)
	}
	return nil
}
