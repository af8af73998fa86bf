package peering

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const compactPeerSize = 6

var ErrMalformedPeerList = errors.New("malformed compact peer list")

// ParsePeers decodes a compact peer list: 4 address bytes followed by a
// big-endian port per entry. A trailing partial entry is an error.
func ParsePeers(peersData []byte) ([]PeerAddr, error) {
	if len(peersData)%compactPeerSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedPeerList, len(peersData), compactPeerSize)
	}

	peers := make([]PeerAddr, 0, len(peersData)/compactPeerSize)
	for i := 0; i < len(peersData); i += compactPeerSize {
		peers = append(peers, PeerAddr{
			IP:   net.IPv4(peersData[i], peersData[i+1], peersData[i+2], peersData[i+3]),
			Port: binary.BigEndian.Uint16(peersData[i+4 : i+6]),
		})
	}
	return peers, nil
}
