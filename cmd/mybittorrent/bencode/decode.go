package bencode

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMalformed is returned when the input is not valid bencode.
	ErrMalformed = errors.New("malformed bencode")
	// ErrUnexpectedEOF is returned when the input ends inside a value.
	ErrUnexpectedEOF = errors.New("unexpected end of bencode input")
)

// maxDepth bounds list/dictionary nesting so hostile input cannot exhaust the stack.
const maxDepth = 256

type decoder struct {
	data  []byte
	pos   int
	depth int
}

// Decode decodes the first bencoded value in data and returns it together
// with the bytes that follow it.
//
// Byte strings decode to string, integers to int, lists to []any and
// dictionaries to map[string]any.
func Decode(data []byte) (any, []byte, error) {
	d := &decoder{data: data}
	value, err := d.value()
	if err != nil {
		return nil, nil, err
	}
	return value, data[d.pos:], nil
}

// DecodeAs decodes data and requires the top level value to be of type T.
// Trailing bytes after the value are an error.
func DecodeAs[T any](data []byte) (T, error) {
	var zero T
	value, rest, err := Decode(data)
	if err != nil {
		return zero, err
	}
	if len(rest) > 0 {
		return zero, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	result, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: expected %T, got %T", ErrMalformed, zero, value)
	}
	return result, nil
}

func (d *decoder) value() (any, error) {
	if d.pos >= len(d.data) {
		return nil, ErrUnexpectedEOF
	}

	switch c := d.data[d.pos]; {
	case isDigit(c):
		return d.string()
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dictionary()
	default:
		return nil, fmt.Errorf("%w: unexpected byte %q at offset %d", ErrMalformed, c, d.pos)
	}
}

func (d *decoder) string() (string, error) {
	start := d.pos
	for d.pos < len(d.data) && isDigit(d.data[d.pos]) {
		d.pos++
	}
	if d.pos >= len(d.data) {
		return "", ErrUnexpectedEOF
	}
	if d.data[d.pos] != ':' {
		return "", fmt.Errorf("%w: expected ':' at offset %d", ErrMalformed, d.pos)
	}

	digits := d.data[start:d.pos]
	if len(digits) > 1 && digits[0] == '0' {
		return "", fmt.Errorf("%w: string length with leading zero at offset %d", ErrMalformed, start)
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return "", fmt.Errorf("%w: string length at offset %d: %v", ErrMalformed, start, err)
	}

	d.pos++ // ':'
	if length > len(d.data)-d.pos {
		return "", fmt.Errorf("%w: string of %d bytes at offset %d", ErrUnexpectedEOF, length, start)
	}
	s := string(d.data[d.pos : d.pos+length])
	d.pos += length
	return s, nil
}

func (d *decoder) integer() (int, error) {
	start := d.pos
	d.pos++ // 'i'

	end := d.pos
	for end < len(d.data) && d.data[end] != 'e' {
		end++
	}
	if end >= len(d.data) {
		return 0, ErrUnexpectedEOF
	}

	digits := d.data[d.pos:end]
	unsigned := digits
	if len(unsigned) > 0 && unsigned[0] == '-' {
		unsigned = unsigned[1:]
	}
	switch {
	case len(unsigned) == 0:
		return 0, fmt.Errorf("%w: empty integer at offset %d", ErrMalformed, start)
	case !allDigits(unsigned):
		return 0, fmt.Errorf("%w: invalid integer %q at offset %d", ErrMalformed, digits, start)
	case len(unsigned) > 1 && unsigned[0] == '0':
		return 0, fmt.Errorf("%w: integer with leading zero at offset %d", ErrMalformed, start)
	case len(unsigned) != len(digits) && unsigned[0] == '0':
		return 0, fmt.Errorf("%w: negative zero at offset %d", ErrMalformed, start)
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("%w: integer at offset %d: %v", ErrMalformed, start, err)
	}
	d.pos = end + 1
	return n, nil
}

func (d *decoder) list() ([]any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	d.pos++ // 'l'
	result := make([]any, 0)
	for {
		if d.pos >= len(d.data) {
			return nil, ErrUnexpectedEOF
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return result, nil
		}

		value, err := d.value()
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}
}

func (d *decoder) dictionary() (map[string]any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	d.pos++ // 'd'
	result := make(map[string]any)
	for {
		if d.pos >= len(d.data) {
			return nil, ErrUnexpectedEOF
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return result, nil
		}

		if !isDigit(d.data[d.pos]) {
			return nil, fmt.Errorf("%w: dictionary key at offset %d is not a byte string", ErrMalformed, d.pos)
		}
		keyOffset := d.pos
		key, err := d.string()
		if err != nil {
			return nil, err
		}
		if _, dup := result[key]; dup {
			return nil, fmt.Errorf("%w: duplicate dictionary key %q at offset %d", ErrMalformed, key, keyOffset)
		}

		value, err := d.value()
		if err != nil {
			return nil, err
		}
		result[key] = value
	}
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d at offset %d", ErrMalformed, maxDepth, d.pos)
	}
	return nil
}

func (d *decoder) leave() {
	d.depth--
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if !isDigit(c) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
