package peering

import "github.com/RoaringBitmap/roaring"

// Bitfield is the set of piece indices a remote peer claims to hold.
type Bitfield struct {
	pieces *roaring.Bitmap
}

func NewBitfield() *Bitfield {
	return &Bitfield{pieces: roaring.New()}
}

// ParseBitfield reads a bitfield payload: the high bit of byte 0 is piece 0.
// Spare bits past the last piece are kept; callers only ask about valid indices.
func ParseBitfield(payload []byte) *Bitfield {
	b := NewBitfield()
	for i, octet := range payload {
		for bit := 0; bit < 8; bit++ {
			if octet&(0x80>>bit) != 0 {
				b.pieces.Add(uint32(i*8 + bit))
			}
		}
	}
	return b
}

func (b *Bitfield) HasPiece(index int) bool {
	return index >= 0 && b.pieces.Contains(uint32(index))
}

func (b *Bitfield) SetPiece(index int) {
	if index >= 0 {
		b.pieces.Add(uint32(index))
	}
}

func (b *Bitfield) Count() int {
	return int(b.pieces.GetCardinality())
}

// Bytes encodes the set for numPieces pieces in wire order.
func (b *Bitfield) Bytes(numPieces int) []byte {
	buf := make([]byte, (numPieces+7)/8)
	it := b.pieces.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if i >= numPieces {
			break
		}
		buf[i/8] |= 0x80 >> (i % 8)
	}
	return buf
}
