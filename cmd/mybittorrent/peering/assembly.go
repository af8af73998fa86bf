package peering

import (
	"errors"
	"fmt"
	"slices"
)

var ErrBadBlock = errors.New("bad block")

// assembly collects the blocks of one in-flight piece keyed by offset. The
// piece is complete once every requested offset has arrived, whatever the
// arrival order.
type assembly struct {
	index    int
	length   int
	expected map[int]int // offset -> block length
	received map[int][]byte
}

func newAssembly(index, length int, blocks []Block) *assembly {
	a := &assembly{
		index:    index,
		length:   length,
		expected: make(map[int]int, len(blocks)),
		received: make(map[int][]byte, len(blocks)),
	}
	for _, b := range blocks {
		a.expected[b.Begin] = b.Length
	}
	return a
}

// put stores a block. It reports false for a duplicate of an offset already
// filled.
func (a *assembly) put(index, begin int, block []byte) (bool, error) {
	if index != a.index {
		return false, fmt.Errorf("%w: piece %d while assembling %d", ErrBadBlock, index, a.index)
	}
	want, ok := a.expected[begin]
	if !ok {
		return false, fmt.Errorf("%w: unrequested offset %d in piece %d", ErrBadBlock, begin, index)
	}
	if len(block) != want {
		return false, fmt.Errorf("%w: %d bytes at offset %d, requested %d", ErrBadBlock, len(block), begin, want)
	}
	if _, dup := a.received[begin]; dup {
		return false, nil
	}
	a.received[begin] = block
	return true, nil
}

func (a *assembly) complete() bool {
	return len(a.received) == len(a.expected)
}

func (a *assembly) missing() int {
	return len(a.expected) - len(a.received)
}

// bytes concatenates the blocks in offset order. It must only be called on
// a complete assembly.
func (a *assembly) bytes() []byte {
	offsets := make([]int, 0, len(a.received))
	for off := range a.received {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)

	data := make([]byte, 0, a.length)
	for _, off := range offsets {
		data = append(data, a.received[off]...)
	}
	return data
}
