package bencode

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
)

// Encode bencodes value. Dictionary keys are written in ascending byte
// order, so encoding a decoded tree is deterministic regardless of the key
// order of the original input.
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case string:
		writeString(buf, v)
	case []byte: // raw piece tables
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(':')
		buf.Write(v)
	case int:
		writeInt(buf, int64(v))
	case int64:
		writeInt(buf, v)
	case uint32:
		writeInt(buf, int64(v))
	case []string:
		buf.WriteByte('l')
		for _, item := range v {
			writeString(buf, item)
		}
		buf.WriteByte('e')
	case []any:
		buf.WriteByte('l')
		for _, item := range v {
			if err := encodeValue(buf, item); err != nil {
				return fmt.Errorf("failed to encode list item: %w", err)
			}
		}
		buf.WriteByte('e')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		// Go compares strings bytewise, which is the canonical order.
		slices.Sort(keys)

		buf.WriteByte('d')
		for _, key := range keys {
			writeString(buf, key)
			if err := encodeValue(buf, v[key]); err != nil {
				return fmt.Errorf("failed to encode dictionary value %q: %w", key, err)
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("unsupported type for bencode encoding: %T", value)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
}

func writeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte('e')
}
