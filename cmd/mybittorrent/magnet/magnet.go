// Package magnet parses magnet URIs far enough to reach a tracker and
// handshake with peers. Fetching metadata from peers is not supported.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const btihPrefix = "urn:btih:"

var ErrInvalidLink = errors.New("invalid magnet link")

// Link is the part of a magnet URI relevant to peer discovery.
type Link struct {
	InfoHash [20]byte
	Name     string
	Trackers []string
}

// Parse accepts both the hex (40 chars) and base32 (32 chars) info hash
// forms of the xt parameter.
func Parse(uri string) (*Link, error) {
	query, ok := strings.CutPrefix(uri, "magnet:?")
	if !ok {
		return nil, fmt.Errorf("%w: missing magnet:? prefix", ErrInvalidLink)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}

	encoded, ok := strings.CutPrefix(values.Get("xt"), btihPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: xt is not a %s topic", ErrInvalidLink, btihPrefix)
	}

	link := &Link{Name: values.Get("dn"), Trackers: values["tr"]}
	var raw []byte
	switch len(encoded) {
	case 40:
		raw, err = hex.DecodeString(encoded)
	case 32:
		raw, err = base32.StdEncoding.DecodeString(strings.ToUpper(encoded))
	default:
		return nil, fmt.Errorf("%w: info hash of %d characters", ErrInvalidLink, len(encoded))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: info hash: %v", ErrInvalidLink, err)
	}
	copy(link.InfoHash[:], raw)
	return link, nil
}

func (l *Link) InfoHashHex() string {
	return hex.EncodeToString(l.InfoHash[:])
}
