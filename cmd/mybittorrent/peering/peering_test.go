package peering

import (
	"errors"
	"testing"
)

func TestParsePeers(t *testing.T) {
	data := []byte{
		165, 232, 33, 77, 0x1a, 0xe1,
		10, 0, 0, 1, 0x00, 0x50,
	}
	peers, err := ParsePeers(data)
	if err != nil {
		t.Fatalf("ParsePeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("len = %d, want 2", len(peers))
	}
	if peers[0].String() != "165.232.33.77:6881" {
		t.Errorf("peer 0 = %s", peers[0])
	}
	if peers[1].String() != "10.0.0.1:80" {
		t.Errorf("peer 1 = %s", peers[1])
	}
}

func TestParsePeersEmpty(t *testing.T) {
	peers, err := ParsePeers(nil)
	if err != nil || len(peers) != 0 {
		t.Errorf("ParsePeers(nil) = %v, %v", peers, err)
	}
}

func TestParsePeersPartialRecord(t *testing.T) {
	for _, n := range []int{1, 5, 13} {
		if _, err := ParsePeers(make([]byte, n)); !errors.Is(err, ErrMalformedPeerList) {
			t.Errorf("%d bytes: error = %v, want ErrMalformedPeerList", n, err)
		}
	}
}
